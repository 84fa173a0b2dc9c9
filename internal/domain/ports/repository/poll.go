package repository

import (
	"context"

	"telegram-agent-runner/internal/domain/model"
)

type PollRepository interface {
	Save(ctx context.Context, qx Tx, poll *model.Poll) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Poll, error)
	// FindOpenByJob returns the unresolved poll linked to a job, if any.
	FindOpenByJob(ctx context.Context, qx Tx, jobID string) (*model.Poll, error)
	RecordVote(ctx context.Context, qx Tx, pollID, voter string, optionIdx int) error
	// Resolve marks the poll resolved exactly once; a second attempt returns
	// domain.ErrAlreadyResolved.
	Resolve(ctx context.Context, qx Tx, pollID, resolution string) error
}
