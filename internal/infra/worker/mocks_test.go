// File: internal/infra/worker/mocks_test.go
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
	"telegram-agent-runner/internal/domain/ports/repository"
	"telegram-agent-runner/internal/usecase"
)

// memJobs is a map-backed JobRepository. The executor's onStart callback
// mutates state from the runner goroutine, so everything is mutex-guarded.
type memJobs struct {
	mu     sync.Mutex
	store  map[string]*model.Job
	events map[string][]string
}

func newMemJobs() *memJobs {
	return &memJobs{store: map[string]*model.Job{}, events: map[string][]string{}}
}

func (m *memJobs) put(job *model.Job) {
	cp := *job
	m.store[job.ID] = &cp
}

func (m *memJobs) Save(_ context.Context, _ repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(job)
	return nil
}

func (m *memJobs) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) List(_ context.Context, _ repository.Tx, chatID int64, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, job := range m.store {
		if job.ChatID == chatID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) ListByState(_ context.Context, _ repository.Tx, states ...model.JobState) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, job := range m.store {
		for _, s := range states {
			if job.State == s {
				cp := *job
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memJobs) CountByState(_ context.Context, _ repository.Tx) (map[model.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[model.JobState]int{}
	for _, job := range m.store {
		counts[job.State]++
	}
	return counts, nil
}

func (m *memJobs) UpdateState(_ context.Context, _ repository.Tx, id string, from, to model.JobState, mutate func(*model.Job)) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != from {
		return nil, domain.ErrStaleTransition
	}
	cp := *job
	cp.State = to
	if mutate != nil {
		mutate(&cp)
	}
	m.put(&cp)
	out := cp
	return &out, nil
}

func (m *memJobs) ClaimNextRunnable(_ context.Context) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *model.Job
	for _, job := range m.store {
		if job.State != model.JobStateQueued && job.State != model.JobStateApproved {
			continue
		}
		if next == nil || job.ID < next.ID {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNotFound
	}
	cp := *next
	return &cp, nil
}

func (m *memJobs) AppendEvent(_ context.Context, _ repository.Tx, jobID, eventType, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[jobID] = append(m.events[jobID], eventType)
	return nil
}

func (m *memJobs) ListEvents(_ context.Context, _ repository.Tx, jobID string, _ int) ([]*model.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.JobEvent
	for _, typ := range m.events[jobID] {
		out = append(out, &model.JobEvent{JobID: jobID, Type: typ})
	}
	return out, nil
}

func (m *memJobs) AddArtifact(context.Context, repository.Tx, *model.Artifact) error { return nil }

func (m *memJobs) ListArtifacts(context.Context, repository.Tx, string) ([]*model.Artifact, error) {
	return nil, nil
}

func (m *memJobs) eventTypes(jobID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events[jobID]...)
}

type memPolls struct {
	mu    sync.Mutex
	store map[string]*model.Poll
}

func newMemPolls() *memPolls { return &memPolls{store: map[string]*model.Poll{}} }

func (m *memPolls) Save(_ context.Context, _ repository.Tx, poll *model.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *poll
	m.store[poll.ID] = &cp
	return nil
}

func (m *memPolls) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	poll, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *poll
	return &cp, nil
}

func (m *memPolls) FindOpenByJob(_ context.Context, _ repository.Tx, jobID string) (*model.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, poll := range m.store {
		if poll.LinkedJobID == jobID && poll.ResolvedAt == nil {
			cp := *poll
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPolls) RecordVote(_ context.Context, _ repository.Tx, pollID, voter string, optionIdx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	poll, ok := m.store[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	if poll.Votes == nil {
		poll.Votes = map[string]int{}
	}
	poll.Votes[voter] = optionIdx
	return nil
}

func (m *memPolls) Resolve(_ context.Context, _ repository.Tx, pollID, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	poll, ok := m.store[pollID]
	if !ok {
		return domain.ErrNotFound
	}
	if poll.ResolvedAt != nil {
		return domain.ErrAlreadyResolved
	}
	now := time.Now()
	poll.ResolvedAt = &now
	poll.Resolution = resolution
	return nil
}

// chatRecorder captures everything the processor sends outward.
type chatRecorder struct {
	mu    sync.Mutex
	caps  []adapter.Capability
	texts []string
	rows  [][][]adapter.InlineButton
	polls []*model.Poll
	docs  []string
}

func newChatRecorder(caps ...adapter.Capability) *chatRecorder {
	return &chatRecorder{caps: caps}
}

func (c *chatRecorder) Capabilities() []adapter.Capability { return c.caps }

func (c *chatRecorder) SendMessage(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *chatRecorder) SendButtons(_ context.Context, _ int64, text string, rows [][]adapter.InlineButton) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.rows = append(c.rows, rows)
	return nil
}

func (c *chatRecorder) SendPoll(_ context.Context, _ int64, poll *model.Poll) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls = append(c.polls, poll)
	return "tg:" + poll.ID, nil
}

func (c *chatRecorder) SendDocument(_ context.Context, _ int64, path, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, path)
	return nil
}

func (c *chatRecorder) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *chatRecorder) sentPolls() []*model.Poll {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Poll(nil), c.polls...)
}

func (c *chatRecorder) sentDocs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.docs...)
}

// stubSessions only needs Touch; anything else panics via the nil embed.
type stubSessions struct {
	usecase.SessionUseCase
	mu      sync.Mutex
	touched []string
}

func (s *stubSessions) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, sessionID)
	return nil
}
