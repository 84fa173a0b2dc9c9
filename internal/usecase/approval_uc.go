// File: internal/usecase/approval_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
	"telegram-agent-runner/internal/domain/ports/repository"
)

// Compile-time check
var _ ApprovalUseCase = (*approvalUC)(nil)

type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
	DecisionRevise  ApprovalDecision = "revise"
)

// Checklist labels shown on the richer UI path. The poll fallback carries
// only the first two.
const (
	ApprovalOptionApprove = "Approve and run"
	ApprovalOptionReject  = "Reject"
	ApprovalOptionRevise  = "Suggest changes"
)

type ApprovalUseCase interface {
	// Classify evaluates the prompt against the risk patterns and combines
	// the result with the job's approval mode snapshot.
	Classify(job *model.Job) (level model.RiskLevel, needsApproval bool, reason string)
	// RequestApproval parks a queued job in awaiting_approval and raises a
	// decision request on the richest channel the transport supports.
	RequestApproval(ctx context.Context, job *model.Job) error
	// OnDecision applies a human decision to a job awaiting approval.
	// Revise returns the job to the queue with the note as an annotation.
	OnDecision(ctx context.Context, jobID string, decision ApprovalDecision, note string) (*model.Job, error)
}

var highRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\breboot\b`),
	regexp.MustCompile(`(?i)\buserdel\b`),
	regexp.MustCompile(`(?i)\bchown\s+-R\s+/`),
	regexp.MustCompile(`(?i)\bchmod\s+777\s+/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`), // fork bomb
}

var mediumRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\brm\b`),
	regexp.MustCompile(`(?i)\bgit\s+push\b`),
	regexp.MustCompile(`(?i)\bdocker\s+(run|compose|rm|rmi|exec)\b`),
	regexp.MustCompile(`(?i)\bsystemctl\b`),
	regexp.MustCompile(`(?i)\bapt(-get)?\s+`),
	regexp.MustCompile(`(?i)\byum\s+`),
	regexp.MustCompile(`(?i)\bpacman\s+`),
	regexp.MustCompile(`(?i)\bpip\s+install\b`),
	regexp.MustCompile(`(?i)\bnpm\s+install\b`),
	regexp.MustCompile(`(?i)\bcargo\s+install\b`),
	regexp.MustCompile(`(?i)\bkubectl\s+`),
}

type approvalUC struct {
	jobs  repository.JobRepository
	polls repository.PollRepository
	chat  adapter.ChatAdapter
}

func NewApprovalUseCase(jobs repository.JobRepository, polls repository.PollRepository, chat adapter.ChatAdapter) *approvalUC {
	return &approvalUC{jobs: jobs, polls: polls, chat: chat}
}

// classifyPrompt scans for destructive command shapes. High patterns win
// over medium ones regardless of position in the text.
func classifyPrompt(prompt string) (model.RiskLevel, string) {
	normalized := strings.TrimSpace(prompt)
	if normalized == "" {
		return model.RiskLow, "empty prompt"
	}
	for _, p := range highRiskPatterns {
		if p.MatchString(normalized) {
			return model.RiskHigh, fmt.Sprintf("matches high-risk pattern: %s", p.String())
		}
	}
	for _, p := range mediumRiskPatterns {
		if p.MatchString(normalized) {
			return model.RiskMedium, fmt.Sprintf("matches medium-risk pattern: %s", p.String())
		}
	}
	return model.RiskLow, "no risky patterns detected"
}

func (u *approvalUC) Classify(job *model.Job) (model.RiskLevel, bool, string) {
	level, reason := classifyPrompt(job.Prompt)

	switch job.Params.ApprovalMode {
	case model.ApprovalNever:
		return level, false, reason
	case model.ApprovalUntrusted:
		return level, true, "approval mode untrusted requires a decision for every job"
	}

	// on-request / on-failure: gate on structural risk signals.
	if job.Params.PermissionMode == model.PermissionFullAccess {
		return level, true, "permission mode danger-full-access requires a decision"
	}
	if level != model.RiskLow {
		return level, true, reason
	}
	return level, false, reason
}

func (u *approvalUC) RequestApproval(ctx context.Context, job *model.Job) error {
	level, _, reason := u.Classify(job)

	parked, err := u.jobs.UpdateState(ctx, nil, job.ID, model.JobStateQueued, model.JobStateAwaitingApproval, func(j *model.Job) {
		j.RiskLevel = level
		j.ApprovalReason = reason
	})
	if err != nil {
		return err
	}
	*job = *parked

	if err := u.jobs.AppendEvent(ctx, nil, job.ID, "approval_required", reason); err != nil {
		return err
	}

	question := fmt.Sprintf("Run job %s?", job.ID)
	if u.supports(adapter.CapabilityChecklist) {
		text := fmt.Sprintf("Job %s needs approval.\nrisk=%s\nreason=%s", job.ID, level, reason)
		rows := [][]adapter.InlineButton{
			{{Text: ApprovalOptionApprove, Data: "apr:" + job.ID + ":approve"}},
			{{Text: ApprovalOptionReject, Data: "apr:" + job.ID + ":reject"}},
			{{Text: ApprovalOptionRevise, Data: "apr:" + job.ID + ":revise"}},
		}
		return u.chat.SendButtons(ctx, job.ChatID, text, rows)
	}

	poll := model.NewPoll(model.PollKindApproval, job.ID, question, []string{ApprovalOptionApprove, ApprovalOptionReject})
	if err := u.polls.Save(ctx, nil, poll); err != nil {
		return err
	}
	if _, err := u.chat.SendPoll(ctx, job.ChatID, poll); err != nil {
		return err
	}
	return nil
}

func (u *approvalUC) OnDecision(ctx context.Context, jobID string, decision ApprovalDecision, note string) (*model.Job, error) {
	switch decision {
	case DecisionApprove:
		job, err := u.jobs.UpdateState(ctx, nil, jobID, model.JobStateAwaitingApproval, model.JobStateApproved, nil)
		if err != nil {
			return nil, u.decisionErr(ctx, jobID, err)
		}
		if err := u.jobs.AppendEvent(ctx, nil, jobID, "approved", note); err != nil {
			return nil, err
		}
		u.resolveLinkedPoll(ctx, jobID, ApprovalOptionApprove)
		return job, nil

	case DecisionReject:
		job, err := u.jobs.UpdateState(ctx, nil, jobID, model.JobStateAwaitingApproval, model.JobStateRejected, func(j *model.Job) {
			now := time.Now()
			j.FinishedAt = &now
			if note != "" {
				j.Annotation = note
			}
		})
		if err != nil {
			return nil, u.decisionErr(ctx, jobID, err)
		}
		if err := u.jobs.AppendEvent(ctx, nil, jobID, "rejected", note); err != nil {
			return nil, err
		}
		u.resolveLinkedPoll(ctx, jobID, ApprovalOptionReject)
		return job, nil

	case DecisionRevise:
		// Back to the queue with the note attached; the next dequeue renders
		// the annotated prompt and classifies it again.
		job, err := u.jobs.UpdateState(ctx, nil, jobID, model.JobStateAwaitingApproval, model.JobStateQueued, func(j *model.Job) {
			j.Annotation = note
		})
		if err != nil {
			return nil, u.decisionErr(ctx, jobID, err)
		}
		if err := u.jobs.AppendEvent(ctx, nil, jobID, "revision_requested", note); err != nil {
			return nil, err
		}
		u.resolveLinkedPoll(ctx, jobID, ApprovalOptionRevise)
		return job, nil
	}
	return nil, fmt.Errorf("decision %q: %w", decision, domain.ErrInvalidArgument)
}

// decisionErr distinguishes "already decided / finished" from a genuinely
// missing job so the transport can phrase the reply.
func (u *approvalUC) decisionErr(ctx context.Context, jobID string, err error) error {
	if !errors.Is(err, domain.ErrStaleTransition) {
		return err
	}
	job, ferr := u.jobs.FindByID(ctx, nil, jobID)
	if ferr != nil {
		return ferr
	}
	if job.State.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, job.State, domain.ErrAlreadyTerminal)
	}
	return err
}

func (u *approvalUC) resolveLinkedPoll(ctx context.Context, jobID, resolution string) {
	poll, err := u.polls.FindOpenByJob(ctx, nil, jobID)
	if err != nil {
		return
	}
	_ = u.polls.Resolve(ctx, nil, poll.ID, resolution)
}

func (u *approvalUC) supports(c adapter.Capability) bool {
	for _, got := range u.chat.Capabilities() {
		if got == c {
			return true
		}
	}
	return false
}
