package model

import (
	"time"

	"github.com/google/uuid"
)

type PollKind string

const (
	PollKindApproval          PollKind = "approval"
	PollKindAssistantFollowup PollKind = "assistant_followup"
	PollKindManual            PollKind = "manual"
)

const (
	MaxQuestionLen = 300
	MaxOptionLen   = 100
	MinOptions     = 2
	MaxOptions     = 10
)

// Poll is a structured question-with-options object used either for
// approval capture or for follow-up decision capture. Immutable after
// resolution.
type Poll struct {
	ID             string
	Kind           PollKind
	LinkedJobID    string
	Question       string
	Options        []string
	AllowsMultiple bool
	Votes          map[string]int // voter -> chosen option index
	ResolvedAt     *time.Time
	Resolution     string // winning option text, or empty until resolved
	CreatedAt      time.Time
}

func NewPoll(kind PollKind, linkedJobID, question string, options []string) *Poll {
	return &Poll{
		ID:          uuid.NewString(),
		Kind:        kind,
		LinkedJobID: linkedJobID,
		Question:    question,
		Options:     options,
		Votes:       map[string]int{},
		CreatedAt:   time.Now(),
	}
}

func (p *Poll) Resolved() bool { return p.ResolvedAt != nil }
