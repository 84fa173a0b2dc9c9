// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
	"telegram-agent-runner/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.Job
	events    map[string][]*model.JobEvent
	artifacts map[string][]*model.Artifact
	saveErr   error // used by tests to simulate save failures
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		store:     make(map[string]*model.Job),
		events:    make(map[string][]*model.JobEvent),
		artifacts: make(map[string][]*model.Artifact),
	}
}

func (m *memJobRepo) Save(ctx context.Context, _ repository.Tx, job *model.Job) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) List(ctx context.Context, _ repository.Tx, chatID int64, limit int) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.ChatID == chatID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRepo) ListByState(ctx context.Context, _ repository.Tx, states ...model.JobState) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		for _, st := range states {
			if j.State == st {
				cp := *j
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *memJobRepo) CountByState(ctx context.Context, _ repository.Tx) (map[model.JobState]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[model.JobState]int{}
	for _, j := range m.store {
		out[j.State]++
	}
	return out, nil
}

func (m *memJobRepo) UpdateState(ctx context.Context, _ repository.Tx, id string, from, to model.JobState, mutate func(*model.Job)) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.State != from {
		return nil, domain.ErrStaleTransition
	}
	if mutate != nil {
		mutate(j)
	}
	j.State = to
	j.UpdatedAt = time.Now()
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ClaimNextRunnable(ctx context.Context) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *model.Job
	for _, j := range m.store {
		if j.State != model.JobStateQueued && j.State != model.JobStateApproved {
			continue
		}
		if oldest == nil || j.ID < oldest.ID {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (m *memJobRepo) AppendEvent(ctx context.Context, _ repository.Tx, jobID, eventType, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[jobID] = append(m.events[jobID], &model.JobEvent{
		ID:        int64(len(m.events[jobID]) + 1),
		JobID:     jobID,
		Type:      eventType,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	return nil
}

func (m *memJobRepo) ListEvents(ctx context.Context, _ repository.Tx, jobID string, limit int) ([]*model.JobEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[jobID]
	if len(evs) > limit {
		evs = evs[:limit]
	}
	out := make([]*model.JobEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (m *memJobRepo) AddArtifact(ctx context.Context, _ repository.Tx, a *model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.ID = int64(len(m.artifacts[a.JobID]) + 1)
	m.artifacts[a.JobID] = append(m.artifacts[a.JobID], &cp)
	return nil
}

func (m *memJobRepo) ListArtifacts(ctx context.Context, _ repository.Tx, jobID string) ([]*model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Artifact, len(m.artifacts[jobID]))
	copy(out, m.artifacts[jobID])
	return out, nil
}

// eventTypes flattens a job's event history for assertions.
func (m *memJobRepo) eventTypes(jobID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, ev := range m.events[jobID] {
		out = append(out, ev.Type)
	}
	return out
}

// memSessionRepo provides in-memory sessions plus the active-session mapping.
type memSessionRepo struct {
	mu     sync.RWMutex
	store  map[string]*model.Session
	active map[int64]string
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		store:  make(map[string]*model.Session),
		active: make(map[int64]string),
	}
}

func (m *memSessionRepo) Save(ctx context.Context, _ repository.Tx, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) FindByName(ctx context.Context, _ repository.Tx, chatID int64, name string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stopped *model.Session
	for _, s := range m.store {
		if s.ChatID != chatID || !strings.EqualFold(s.Name, name) {
			continue
		}
		if s.Status != model.SessionStopped {
			cp := *s
			return &cp, nil
		}
		stopped = s
	}
	if stopped != nil {
		cp := *stopped
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memSessionRepo) ListByChat(ctx context.Context, _ repository.Tx, chatID int64) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, s := range m.store {
		if s.ChatID == chatID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LastUsedAt.After(out[b].LastUsedAt) })
	return out, nil
}

func (m *memSessionRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memSessionRepo) Touch(ctx context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.LastUsedAt = time.Now()
	return nil
}

func (m *memSessionRepo) GetActiveSession(ctx context.Context, _ repository.Tx, chatID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[chatID], nil
}

func (m *memSessionRepo) SetActiveSession(ctx context.Context, _ repository.Tx, chatID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		delete(m.active, chatID)
		return nil
	}
	m.active[chatID] = sessionID
	return nil
}

// memPollRepo keeps polls and votes in memory with first-write-wins resolve.
type memPollRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Poll
}

func newMemPollRepo() *memPollRepo {
	return &memPollRepo{store: make(map[string]*model.Poll)}
}

func (m *memPollRepo) Save(ctx context.Context, _ repository.Tx, poll *model.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *poll
	m.store[poll.ID] = &cp
	return nil
}

func (m *memPollRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPollRepo) FindOpenByJob(ctx context.Context, _ repository.Tx, jobID string) (*model.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.LinkedJobID == jobID && p.ResolvedAt == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPollRepo) RecordVote(ctx context.Context, _ repository.Tx, pollID, voter string, optionIdx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Votes == nil {
		p.Votes = map[string]int{}
	}
	p.Votes[voter] = optionIdx
	return nil
}

func (m *memPollRepo) Resolve(ctx context.Context, _ repository.Tx, pollID, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.ResolvedAt != nil {
		return domain.ErrAlreadyResolved
	}
	now := time.Now()
	p.ResolvedAt = &now
	p.Resolution = resolution
	return nil
}

// memLocker hands out locks unconditionally; contention is covered by the
// redis integration tests.
type memLocker struct{}

func (memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "token", nil
}

func (memLocker) Unlock(ctx context.Context, key, token string) error { return nil }

// mockChat records outbound traffic; capabilities are configurable per test.
type mockChat struct {
	mu    sync.Mutex
	caps  []adapter.Capability
	texts []string
	rows  [][][]adapter.InlineButton
	polls []*model.Poll
	docs  []string
}

func newMockChat(caps ...adapter.Capability) *mockChat {
	return &mockChat{caps: caps}
}

func (c *mockChat) Capabilities() []adapter.Capability { return c.caps }

func (c *mockChat) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *mockChat) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.rows = append(c.rows, rows)
	return nil
}

func (c *mockChat) SendPoll(ctx context.Context, chatID int64, poll *model.Poll) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls = append(c.polls, poll)
	return "tg:" + poll.ID, nil
}

func (c *mockChat) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, path)
	return nil
}
