package repository

import (
	"context"

	"telegram-agent-runner/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, qx Tx, job *model.Job) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Job, error)
	List(ctx context.Context, qx Tx, chatID int64, limit int) ([]*model.Job, error)
	ListByState(ctx context.Context, qx Tx, states ...model.JobState) ([]*model.Job, error)
	CountByState(ctx context.Context, qx Tx) (map[model.JobState]int, error)

	// UpdateState performs a conditional transition: the row is updated only
	// if its current state equals `from`. A mismatch returns
	// domain.ErrStaleTransition and leaves the record untouched.
	UpdateState(ctx context.Context, qx Tx, id string, from, to model.JobState, mutate func(*model.Job)) (*model.Job, error)

	// ClaimNextRunnable atomically fetches the oldest queued or approved job
	// and returns it still in its claimed-from state; jobs awaiting approval
	// are skipped. Returns domain.ErrNotFound when nothing is runnable.
	ClaimNextRunnable(ctx context.Context) (*model.Job, error)

	AppendEvent(ctx context.Context, qx Tx, jobID, eventType, detail string) error
	ListEvents(ctx context.Context, qx Tx, jobID string, limit int) ([]*model.JobEvent, error)

	AddArtifact(ctx context.Context, qx Tx, a *model.Artifact) error
	ListArtifacts(ctx context.Context, qx Tx, jobID string) ([]*model.Artifact, error)
}
