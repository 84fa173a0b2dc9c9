// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// RunCanceller terminates the external process of a running job. The worker
// registers itself here once started; before that, cancel of a running job
// falls back to a plain state transition.
type RunCanceller interface {
	CancelRunning(jobID string) bool
}

type JobUseCase interface {
	// Enqueue always yields a new queued job. Risk classification happens
	// later, when the worker is about to dequeue it, so policy changes made
	// in between take effect.
	Enqueue(ctx context.Context, chatID int64, sessionID, prompt string, params model.TemplateParams) (*model.Job, error)
	// Cancel moves any non-terminal job to cancelled; for a running job it
	// signals the executor first and lets the worker record the outcome.
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
	Get(ctx context.Context, jobID string) (*model.Job, error)
	List(ctx context.Context, chatID int64, limit int) ([]*model.Job, error)
	ListEvents(ctx context.Context, jobID string, limit int) ([]*model.JobEvent, error)
	ListArtifacts(ctx context.Context, jobID string) ([]*model.Artifact, error)
	CountByState(ctx context.Context) (map[model.JobState]int, error)
	SetCanceller(c RunCanceller)
}

type jobUC struct {
	jobs      repository.JobRepository
	canceller RunCanceller
}

func NewJobUseCase(jobs repository.JobRepository) *jobUC {
	return &jobUC{jobs: jobs}
}

func (u *jobUC) SetCanceller(c RunCanceller) { u.canceller = c }

func (u *jobUC) Enqueue(ctx context.Context, chatID int64, sessionID, prompt string, params model.TemplateParams) (*model.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt: %w", domain.ErrInvalidArgument)
	}

	job := model.NewJob(chatID, sessionID, prompt, params)
	if err := u.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}
	if err := u.jobs.AppendEvent(ctx, nil, job.ID, "created", ""); err != nil {
		return nil, err
	}
	return job, nil
}

func (u *jobUC) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.State, domain.ErrAlreadyTerminal)
	}

	if job.State == model.JobStateRunning {
		if u.canceller != nil && u.canceller.CancelRunning(jobID) {
			// The worker observes the kill and records running -> cancelled.
			if err := u.jobs.AppendEvent(ctx, nil, jobID, "cancel_requested", ""); err != nil {
				return nil, err
			}
			return job, nil
		}
	}

	cancelled, err := u.jobs.UpdateState(ctx, nil, jobID, job.State, model.JobStateCancelled, func(j *model.Job) {
		now := time.Now()
		j.FinishedAt = &now
	})
	if err != nil {
		// Lost the race against a concurrent transition; re-check terminality.
		if errors.Is(err, domain.ErrStaleTransition) {
			latest, ferr := u.jobs.FindByID(ctx, nil, jobID)
			if ferr == nil && latest.State.Terminal() {
				return nil, fmt.Errorf("job %s is %s: %w", jobID, latest.State, domain.ErrAlreadyTerminal)
			}
		}
		return nil, err
	}
	if err := u.jobs.AppendEvent(ctx, nil, jobID, "cancelled", ""); err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (u *jobUC) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return u.jobs.FindByID(ctx, nil, jobID)
}

func (u *jobUC) List(ctx context.Context, chatID int64, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	return u.jobs.List(ctx, nil, chatID, limit)
}

func (u *jobUC) ListEvents(ctx context.Context, jobID string, limit int) ([]*model.JobEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return u.jobs.ListEvents(ctx, nil, jobID, limit)
}

func (u *jobUC) ListArtifacts(ctx context.Context, jobID string) ([]*model.Artifact, error) {
	return u.jobs.ListArtifacts(ctx, nil, jobID)
}

func (u *jobUC) CountByState(ctx context.Context) (map[model.JobState]int, error) {
	return u.jobs.CountByState(ctx, nil)
}
