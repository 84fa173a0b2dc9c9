package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type JobState string

const (
	JobStateQueued           JobState = "queued"
	JobStateAwaitingApproval JobState = "awaiting_approval"
	JobStateApproved         JobState = "approved"
	JobStateRejected         JobState = "rejected"
	JobStateRunning          JobState = "running"
	JobStateCompleted        JobState = "completed"
	JobStateFailed           JobState = "failed"
	JobStateCancelled        JobState = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateRejected:
		return true
	}
	return false
}

type ErrorKind string

const (
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindPathNotAllowed   ErrorKind = "path_not_allowed"
	ErrorKindExecutionFailure ErrorKind = "execution_failure"
	ErrorKindInterrupted      ErrorKind = "interrupted"
)

// JobError is the structured error recorded on a failed job.
type JobError struct {
	Kind    ErrorKind
	Message string
}

// Job is one unit of requested automation work with its own lifecycle.
// Created by the queue on submission; mutated only by the worker, the
// approval gate and the cancel path, each through conditional state updates.
type Job struct {
	ID             string
	ChatID         int64
	SessionID      string // empty means an ephemeral run without a session
	Prompt         string
	Params         TemplateParams // snapshot of runtime overrides at enqueue time
	State          JobState
	RiskLevel      RiskLevel
	ApprovalReason string
	Annotation     string // revision note attached by a Revise decision
	PID            int    // pid of the external process while running
	ExitCode       int
	ResultText     string
	Error          *JobError
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
}

// NewJob builds a queued job. IDs are ULIDs so that lexical order matches
// submission order, which the scheduler's oldest-first scan relies on.
func NewJob(chatID int64, sessionID, prompt string, params TemplateParams) *Job {
	now := time.Now()
	return &Job{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ChatID:    chatID,
		SessionID: sessionID,
		Prompt:    prompt,
		Params:    params,
		State:     JobStateQueued,
		RiskLevel: RiskLow,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type JobEvent struct {
	ID        int64
	JobID     string
	Type      string
	Detail    string
	Timestamp time.Time
}
