// File: internal/infra/worker/recovery.go
package worker

import (
	"context"
	"fmt"
	"time"

	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/infra/executor"
	"telegram-agent-runner/internal/infra/metrics"
)

// RecoverInterrupted reconciles jobs left in running by a crash. A running
// job whose recorded process is gone is moved to failed with an interrupted
// error; queued, approved and awaiting_approval jobs re-enter the scan
// untouched.
func (p *JobProcessor) RecoverInterrupted(ctx context.Context) error {
	stale, err := p.jobs.ListByState(ctx, nil, model.JobStateRunning)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}

	for _, job := range stale {
		if executor.ProcessAlive(job.PID) {
			// Still running outside our control; leave the record alone so
			// an operator can decide.
			p.log.Warn().Str("job_id", job.ID).Int("pid", job.PID).Msg("found live orphaned runner process")
			continue
		}

		_, err := p.jobs.UpdateState(ctx, nil, job.ID, model.JobStateRunning, model.JobStateFailed, func(j *model.Job) {
			now := time.Now()
			j.FinishedAt = &now
			j.Error = &model.JobError{Kind: model.ErrorKindInterrupted, Message: "process not running after restart"}
		})
		if err != nil {
			return fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		_ = p.jobs.AppendEvent(ctx, nil, job.ID, "interrupted", "recovered at startup")
		metrics.IncJobFinished(string(model.JobStateFailed))
		p.log.Info().Str("job_id", job.ID).Int("pid", job.PID).Msg("marked interrupted job as failed")
	}
	return nil
}
