// File: internal/usecase/poll_uc.go
package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
)

// Compile-time check
var _ PollUseCase = (*pollUC)(nil)

// Resolution is the outcome of matching a cast vote against a poll.
type Resolution struct {
	Poll      *model.Poll
	OptionIdx int
	Option    string
	Valid     bool
}

type PollUseCase interface {
	// Parse turns free-form or pipe-delimited text into a validated poll.
	// The returned poll is not persisted; callers set the kind and link.
	Parse(raw string) (*model.Poll, error)
	// CreateManual validates and persists an operator poll (/poll). The
	// question is explicit, no question detection is applied.
	CreateManual(ctx context.Context, question string, options []string) (*model.Poll, error)
	// ScanOutput applies Parse to job output text. Anything that does not
	// parse as a poll is treated as prose and reported as (nil, nil).
	ScanOutput(jobID, text string) (*model.Poll, error)
	SaveLinked(ctx context.Context, poll *model.Poll) error
	Get(ctx context.Context, pollID string) (*model.Poll, error)
	// CastVote matches chosen text case-insensitively against the poll's
	// options. An unmatched vote yields Valid=false and leaves the poll
	// unresolved; a matched vote resolves the poll exactly once.
	CastVote(ctx context.Context, pollID, voter, chosenText string) (*Resolution, error)
	// CastVoteByIndex resolves a native transport vote carrying an option
	// index instead of text.
	CastVoteByIndex(ctx context.Context, pollID, voter string, optionIdx int) (*Resolution, error)
}

type pollUC struct {
	polls repository.PollRepository
}

func NewPollUseCase(polls repository.PollRepository) *pollUC {
	return &pollUC{polls: polls}
}

// optionPrefixRe matches the accepted list enumerators: "-", "*", "1.",
// "2)", "a.", "B)" at the start of a line.
var optionPrefixRe = regexp.MustCompile(`^\s*(?:[-*]|\d{1,2}[.)]|[A-Za-z][.)])\s+(.*)$`)

func (p *pollUC) Parse(raw string) (*model.Poll, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrNoQuestion
	}

	var question string
	var options []string

	if strings.Contains(raw, "|") && !strings.Contains(raw, "\n") {
		// Pipe-delimited block: "Question? | option | option".
		parts := strings.Split(raw, "|")
		question = strings.TrimSpace(parts[0])
		for _, part := range parts[1:] {
			options = append(options, strings.TrimSpace(part))
		}
	} else {
		// Bare question line followed by a contiguous list.
		lines := strings.Split(raw, "\n")
		question = strings.TrimSpace(lines[0])
		for _, line := range lines[1:] {
			m := optionPrefixRe.FindStringSubmatch(line)
			if m == nil {
				if len(options) > 0 {
					break // list ended
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, domain.ErrNoQuestion
			}
			options = append(options, strings.TrimSpace(m[1]))
		}
	}

	// Question detection only applies to scanned text; an operator's /poll
	// goes through CreateManual and may phrase the question any way.
	if !strings.HasSuffix(question, "?") {
		return nil, domain.ErrNoQuestion
	}
	return buildPoll(question, options)
}

// buildPoll applies the validation pipeline shared by Parse and
// CreateManual: truncation, dedup, option count bounds.
func buildPoll(question string, options []string) (*model.Poll, error) {
	if question == "" {
		return nil, domain.ErrNoQuestion
	}
	question = truncate(question, model.MaxQuestionLen)

	seen := map[string]struct{}{}
	deduped := make([]string, 0, len(options))
	for _, opt := range options {
		opt = truncate(strings.TrimSpace(opt), model.MaxOptionLen)
		if _, dup := seen[opt]; dup {
			continue
		}
		seen[opt] = struct{}{}
		deduped = append(deduped, opt)
	}
	if len(deduped) < model.MinOptions {
		return nil, domain.ErrTooFewOptions
	}
	if len(deduped) > model.MaxOptions {
		return nil, domain.ErrTooManyOptions
	}
	for _, opt := range deduped {
		if opt == "" {
			return nil, domain.ErrEmptyOption
		}
	}
	return model.NewPoll(model.PollKindManual, "", question, deduped), nil
}

// truncate caps s at n characters. Telegram's limits count characters, and
// cutting on a byte offset could split a multi-byte rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (p *pollUC) CreateManual(ctx context.Context, question string, options []string) (*model.Poll, error) {
	poll, err := buildPoll(question, options)
	if err != nil {
		return nil, err
	}
	poll.Kind = model.PollKindManual
	if err := p.polls.Save(ctx, nil, poll); err != nil {
		return nil, fmt.Errorf("save poll: %w", err)
	}
	return poll, nil
}

func (p *pollUC) ScanOutput(jobID, text string) (*model.Poll, error) {
	poll, err := p.Parse(text)
	if err != nil {
		return nil, nil // ambiguous output is prose, not a poll
	}
	poll.Kind = model.PollKindAssistantFollowup
	poll.LinkedJobID = jobID
	return poll, nil
}

func (p *pollUC) SaveLinked(ctx context.Context, poll *model.Poll) error {
	return p.polls.Save(ctx, nil, poll)
}

func (p *pollUC) Get(ctx context.Context, pollID string) (*model.Poll, error) {
	return p.polls.FindByID(ctx, nil, pollID)
}

func (p *pollUC) CastVote(ctx context.Context, pollID, voter, chosenText string) (*Resolution, error) {
	poll, err := p.polls.FindByID(ctx, nil, pollID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, opt := range poll.Options {
		if strings.EqualFold(strings.TrimSpace(chosenText), opt) {
			idx = i
			break
		}
	}
	if idx < 0 {
		// The caller reports the invalid vote; the poll stays open.
		return &Resolution{Poll: poll, OptionIdx: -1, Valid: false}, nil
	}
	return p.resolve(ctx, poll, voter, idx)
}

func (p *pollUC) CastVoteByIndex(ctx context.Context, pollID, voter string, optionIdx int) (*Resolution, error) {
	poll, err := p.polls.FindByID(ctx, nil, pollID)
	if err != nil {
		return nil, err
	}
	if optionIdx < 0 || optionIdx >= len(poll.Options) {
		return &Resolution{Poll: poll, OptionIdx: -1, Valid: false}, nil
	}
	return p.resolve(ctx, poll, voter, optionIdx)
}

func (p *pollUC) resolve(ctx context.Context, poll *model.Poll, voter string, idx int) (*Resolution, error) {
	if poll.Resolved() {
		return nil, domain.ErrAlreadyResolved
	}
	if err := p.polls.RecordVote(ctx, nil, poll.ID, voter, idx); err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	if err := p.polls.Resolve(ctx, nil, poll.ID, poll.Options[idx]); err != nil {
		return nil, fmt.Errorf("resolve poll: %w", err)
	}
	return &Resolution{Poll: poll, OptionIdx: idx, Option: poll.Options[idx], Valid: true}, nil
}
