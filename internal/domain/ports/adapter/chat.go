package adapter

import (
	"context"

	"telegram-agent-runner/internal/domain/model"
)

// Capability names a presentation feature the chat transport supports. The
// approval gate probes these and picks the richest available channel; Poll is
// the guaranteed baseline.
type Capability string

const (
	CapabilityPoll      Capability = "poll"
	CapabilityChecklist Capability = "checklist"
)

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// ChatAdapter is the outbound port to the chat transport. Inbound traffic
// (commands, votes) flows the other way: the transport invokes the
// application facade and the approval gate's OnDecision directly.
type ChatAdapter interface {
	Capabilities() []Capability
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]InlineButton) error
	// SendPoll renders the poll natively and returns the transport-side poll
	// id used to correlate later votes.
	SendPoll(ctx context.Context, chatID int64, poll *model.Poll) (string, error)
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}
