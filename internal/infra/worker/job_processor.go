// File: internal/infra/worker/job_processor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
	"telegram-agent-runner/internal/domain/ports/repository"
	"telegram-agent-runner/internal/infra/executor"
	"telegram-agent-runner/internal/infra/logging"
	"telegram-agent-runner/internal/infra/metrics"
	"telegram-agent-runner/internal/usecase"
)

const maxDeliveredArtifacts = 5

// runHandle tracks one in-flight execution so an explicit cancel can kill
// the external process and be told apart from a shutdown kill.
type runHandle struct {
	cancel    context.CancelFunc
	requested bool
}

// JobProcessor drives the scheduling loop: claim the oldest runnable job,
// gate it through approval, execute it and record the outcome. Runs on a
// single-lane pool so only one job is ever running.
type JobProcessor struct {
	jobs      repository.JobRepository
	sessions  usecase.SessionUseCase
	approvals usecase.ApprovalUseCase
	polls     usecase.PollUseCase
	runner    *executor.Runner
	collector *executor.Collector
	chat      adapter.ChatAdapter
	log       *zerolog.Logger

	interval time.Duration

	mu      sync.Mutex
	running map[string]*runHandle
}

func NewJobProcessor(
	jobs repository.JobRepository,
	sessions usecase.SessionUseCase,
	approvals usecase.ApprovalUseCase,
	polls usecase.PollUseCase,
	runner *executor.Runner,
	collector *executor.Collector,
	chat adapter.ChatAdapter,
	interval time.Duration,
	log *zerolog.Logger,
) *JobProcessor {
	l := log.With().Str("component", "job_processor").Logger()
	return &JobProcessor{
		jobs:      jobs,
		sessions:  sessions,
		approvals: approvals,
		polls:     polls,
		runner:    runner,
		collector: collector,
		chat:      chat,
		interval:  interval,
		log:       &l,
		running:   map[string]*runHandle{},
	}
}

// CancelRunning kills the external process of a running job. Reports whether
// the job was actually in flight here.
func (p *JobProcessor) CancelRunning(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.running[jobID]
	if !ok {
		return false
	}
	h.requested = true
	h.cancel()
	return true
}

// Start runs the dispatch loop until ctx is cancelled. Run in a goroutine.
func (p *JobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("interval", p.interval).Msg("job processor started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job processor stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				p.processOne(ctx)
				return nil
			})
		}
	}
}

func (p *JobProcessor) processOne(ctx context.Context) {
	// Parked jobs must not block later-queued runnable ones, so the claim
	// loop keeps going within a tick after gating a job for approval.
	for {
		job, err := p.jobs.ClaimNextRunnable(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("failed to claim next job")
			}
			return
		}

		if job.State == model.JobStateQueued {
			level, needsApproval, reason := p.approvals.Classify(job)
			if needsApproval {
				if err := p.approvals.RequestApproval(ctx, job); err != nil {
					p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to request approval")
					return
				}
				metrics.IncApprovalRequested(string(level))
				p.notify(ctx, job.ChatID, fmt.Sprintf(
					"Job %s is waiting for approval.\nrisk=%s\nreason=%s\nUse /approve %s or /reject %s.",
					job.ID, level, reason, job.ID, job.ID))
				continue
			}
			job.RiskLevel = level
			job.ApprovalReason = reason
		}

		p.run(ctx, job)
		return
	}
}

func (p *JobProcessor) run(ctx context.Context, job *model.Job) {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, p.log)
	level, reason := job.RiskLevel, job.ApprovalReason
	started, err := p.jobs.UpdateState(ctx, nil, job.ID, job.State, model.JobStateRunning, func(j *model.Job) {
		now := time.Now()
		j.StartedAt = &now
		j.RiskLevel = level
		j.ApprovalReason = reason
	})
	if err != nil {
		// Cancelled (or otherwise moved) between claim and start.
		if !errors.Is(err, domain.ErrStaleTransition) {
			log.Error().Err(err).Msg("failed to mark job running")
		}
		return
	}
	job = started
	_ = p.jobs.AppendEvent(ctx, nil, job.ID, "started", "")

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.running[job.ID] = &runHandle{cancel: cancel}
	p.mu.Unlock()

	begin := time.Now()
	res, execErr := p.runner.Execute(runCtx, job, func(pid int) {
		_, _ = p.jobs.UpdateState(ctx, nil, job.ID, model.JobStateRunning, model.JobStateRunning, func(j *model.Job) {
			j.PID = pid
		})
	})

	p.mu.Lock()
	requested := p.running[job.ID] != nil && p.running[job.ID].requested
	delete(p.running, job.ID)
	p.mu.Unlock()
	cancel()

	// Terminal updates use a fresh context so shutdown does not lose them.
	finCtx := context.Background()
	metrics.ObserveJobExecution(time.Since(begin).Seconds())

	if execErr != nil {
		kind := model.ErrorKindValidation
		if errors.Is(execErr, domain.ErrPathNotAllowed) {
			kind = model.ErrorKindPathNotAllowed
		}
		p.finish(finCtx, job, model.JobStateFailed, func(j *model.Job) {
			j.Error = &model.JobError{Kind: kind, Message: execErr.Error()}
		})
		p.notify(finCtx, job.ChatID, fmt.Sprintf("Job %s failed: %s", job.ID, execErr))
		return
	}

	switch {
	case res.Killed && requested:
		p.finish(finCtx, job, model.JobStateCancelled, func(j *model.Job) {
			j.ExitCode = res.ExitCode
		})
		p.notify(finCtx, job.ChatID, fmt.Sprintf("Job %s cancelled.", job.ID))

	case res.Killed:
		// Shutdown took the process down with it.
		p.finish(finCtx, job, model.JobStateFailed, func(j *model.Job) {
			j.ExitCode = res.ExitCode
			j.Error = &model.JobError{Kind: model.ErrorKindInterrupted, Message: "interrupted by shutdown"}
		})

	case res.TimedOut:
		p.finish(finCtx, job, model.JobStateFailed, func(j *model.Job) {
			j.ExitCode = res.ExitCode
			j.ResultText = res.Summary
			j.Error = &model.JobError{Kind: model.ErrorKindExecutionFailure, Message: res.ErrorText}
		})
		p.notify(finCtx, job.ChatID, fmt.Sprintf("Job %s failed: %s", job.ID, res.ErrorText))

	case res.ExitCode == 0:
		p.finish(finCtx, job, model.JobStateCompleted, func(j *model.Job) {
			j.ExitCode = 0
			j.ResultText = res.Summary
		})
		p.deliverResult(finCtx, job, res)

	default:
		p.finish(finCtx, job, model.JobStateFailed, func(j *model.Job) {
			j.ExitCode = res.ExitCode
			j.ResultText = res.Summary
			j.Error = &model.JobError{Kind: model.ErrorKindExecutionFailure, Message: res.ErrorText}
		})
		p.notify(finCtx, job.ChatID, fmt.Sprintf("Job %s failed (exit %d):\n%s", job.ID, res.ExitCode, res.ErrorText))
	}

	if job.SessionID != "" {
		_ = p.sessions.Touch(finCtx, job.SessionID)
	}
}

func (p *JobProcessor) finish(ctx context.Context, job *model.Job, state model.JobState, mutate func(*model.Job)) {
	_, err := p.jobs.UpdateState(ctx, nil, job.ID, model.JobStateRunning, state, func(j *model.Job) {
		now := time.Now()
		j.FinishedAt = &now
		if mutate != nil {
			mutate(j)
		}
	})
	if err != nil {
		// Lost the race against an explicit cancel; that transition stands.
		if !errors.Is(err, domain.ErrStaleTransition) {
			p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record final job state")
		}
		return
	}
	_ = p.jobs.AppendEvent(ctx, nil, job.ID, string(state), "")
	metrics.IncJobFinished(string(state))
	p.log.Info().Str("job_id", job.ID).Str("state", string(state)).Msg("job finished")
}

// deliverResult sends the summary, registered artifacts and, when the output
// ends in a question with options, a follow-up poll.
func (p *JobProcessor) deliverResult(ctx context.Context, job *model.Job, res *executor.Result) {
	p.notify(ctx, job.ChatID, fmt.Sprintf("Job %s completed.\n%s", job.ID, res.Summary))

	artifacts, err := p.collector.CollectFromRunDir(ctx, job.ID, res.RunDir)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("artifact collection failed")
	}
	roots := append([]string{res.RunDir}, p.runner.AllowedRoots()...)
	mentioned, err := p.collector.CollectFromOutput(ctx, job.ID, res.Summary, p.runner.WorkdirFor(job), roots)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("output artifact scan failed")
	}
	artifacts = append(artifacts, mentioned...)
	sent := 0
	for _, a := range artifacts {
		if a.Kind == model.ArtifactLog {
			continue
		}
		if sent >= maxDeliveredArtifacts {
			break
		}
		caption := fmt.Sprintf("job=%s kind=%s", job.ID, a.Kind)
		if err := p.chat.SendDocument(ctx, job.ChatID, a.Path, caption); err != nil {
			p.log.Error().Err(err).Str("path", a.Path).Msg("failed to deliver artifact")
			continue
		}
		sent++
	}

	poll, err := p.polls.ScanOutput(job.ID, res.Summary)
	if err != nil || poll == nil {
		return
	}
	if err := p.polls.SaveLinked(ctx, poll); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist follow-up poll")
		return
	}
	if _, err := p.chat.SendPoll(ctx, job.ChatID, poll); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to send follow-up poll")
		return
	}
	metrics.IncPollCreated(string(poll.Kind))
}

func (p *JobProcessor) notify(ctx context.Context, chatID int64, text string) {
	if err := p.chat.SendMessage(ctx, chatID, text); err != nil {
		p.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send notification")
	}
}
