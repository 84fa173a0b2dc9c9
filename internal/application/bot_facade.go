// File: internal/application/bot_facade.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/infra/logging"
	"telegram-agent-runner/internal/infra/metrics"
	"telegram-agent-runner/internal/usecase"
)

// BotFacade composes usecases into high-level bot commands. Methods return
// strings so the Telegram adapter just forwards them to the chat; the two
// poll-producing commands return the poll for native rendering.
type BotFacade struct {
	JobUC      usecase.JobUseCase
	SessionUC  usecase.SessionUseCase
	ApprovalUC usecase.ApprovalUseCase
	PollUC     usecase.PollUseCase
	ProfileUC  usecase.ProfileUseCase
}

func NewBotFacade(
	jobUC usecase.JobUseCase,
	sessionUC usecase.SessionUseCase,
	approvalUC usecase.ApprovalUseCase,
	pollUC usecase.PollUseCase,
	profileUC usecase.ProfileUseCase,
) *BotFacade {
	return &BotFacade{
		JobUC:      jobUC,
		SessionUC:  sessionUC,
		ApprovalUC: approvalUC,
		PollUC:     pollUC,
		ProfileUC:  profileUC,
	}
}

// HandleRun enqueues a job against the chat's active session, or as an
// ephemeral run when no session is active.
func (b *BotFacade) HandleRun(ctx context.Context, chatID int64, prompt string) (string, error) {
	sessionID := ""
	if s, err := b.SessionUC.Active(ctx, chatID); err == nil {
		sessionID = s.ID
		ctx = logging.WithSessID(ctx, sessionID)
	}

	params := b.ProfileUC.Snapshot(chatID)
	job, err := b.JobUC.Enqueue(ctx, chatID, sessionID, prompt, params)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	metrics.IncJobEnqueued()

	scope := "ephemeral"
	if sessionID != "" {
		scope = "session " + sessionID
	}
	return fmt.Sprintf("Queued job %s (%s).", job.ID, scope), nil
}

func (b *BotFacade) HandleNewSession(ctx context.Context, chatID int64, name string) (string, error) {
	s, err := b.SessionUC.Create(ctx, chatID, name)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateName) {
			return fmt.Sprintf("A session named %q already exists.", name), nil
		}
		return "", err
	}
	if _, err := b.SessionUC.Activate(ctx, chatID, s.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Session %q created and active.\nid=%s", s.Name, s.ID), nil
}

func (b *BotFacade) HandleResume(ctx context.Context, chatID int64, ref string) (string, error) {
	s, err := b.SessionUC.Activate(ctx, chatID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("No session %q found.", ref), nil
		}
		return "", err
	}
	return fmt.Sprintf("Session %q is now active.\nid=%s", s.Name, s.ID), nil
}

func (b *BotFacade) HandleFork(ctx context.Context, chatID int64, sourceRef, name string) (string, error) {
	s, err := b.SessionUC.Fork(ctx, chatID, sourceRef, name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoActiveSession):
			return "No active session to fork from. Name a source: /fork <source> <name>", nil
		case errors.Is(err, domain.ErrDuplicateName):
			return fmt.Sprintf("A session named %q already exists.", name), nil
		case errors.Is(err, domain.ErrNotFound):
			return fmt.Sprintf("No session %q found.", sourceRef), nil
		}
		return "", err
	}
	return fmt.Sprintf("Forked session %q from %s; it is now active.\nid=%s", s.Name, s.DerivedFrom, s.ID), nil
}

func (b *BotFacade) HandleStopSession(ctx context.Context, chatID int64, ref string) (string, error) {
	s, err := b.SessionUC.Stop(ctx, chatID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return "No active session to stop.", nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("No session %q found.", ref), nil
		}
		return "", err
	}
	return fmt.Sprintf("Session %q stopped.", s.Name), nil
}

func (b *BotFacade) HandleSessions(ctx context.Context, chatID int64) (string, error) {
	sessions, err := b.SessionUC.List(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "No sessions yet. Create one with /new <name>.", nil
	}

	activeID := ""
	if a, err := b.SessionUC.Active(ctx, chatID); err == nil {
		activeID = a.ID
	}

	sb := strings.Builder{}
	sb.WriteString("Sessions:\n")
	for _, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s [%s] id=%s", marker, s.Name, s.Status, s.ID)
		if s.DerivedFrom != "" {
			line += " forked-from=" + s.DerivedFrom
		}
		sb.WriteString(line + "\n")
	}
	return sb.String(), nil
}

func (b *BotFacade) HandleJobs(ctx context.Context, chatID int64, limit int) (string, error) {
	jobs, err := b.JobUC.List(ctx, chatID, limit)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No jobs yet. Queue one with /run <prompt>.", nil
	}
	sb := strings.Builder{}
	sb.WriteString("Recent jobs:\n")
	for _, j := range jobs {
		sb.WriteString(fmt.Sprintf("%s [%s] %s\n", j.ID, j.State, truncate(j.Prompt, 60)))
	}
	return sb.String(), nil
}

func (b *BotFacade) HandleJob(ctx context.Context, jobID string) (string, error) {
	job, err := b.JobUC.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("No job %s found.", jobID), nil
		}
		return "", err
	}

	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("Job %s\nstate=%s risk=%s\nprompt: %s\n", job.ID, job.State, job.RiskLevel, truncate(job.Prompt, 200)))
	if job.SessionID != "" {
		sb.WriteString("session=" + job.SessionID + "\n")
	}
	if job.ApprovalReason != "" {
		sb.WriteString("approval: " + job.ApprovalReason + "\n")
	}
	if job.Annotation != "" {
		sb.WriteString("note: " + job.Annotation + "\n")
	}
	if job.State.Terminal() {
		sb.WriteString(fmt.Sprintf("exit=%d\n", job.ExitCode))
		if job.Error != nil {
			sb.WriteString(fmt.Sprintf("error (%s): %s\n", job.Error.Kind, job.Error.Message))
		}
		if job.ResultText != "" {
			sb.WriteString("result:\n" + truncate(job.ResultText, 800) + "\n")
		}
	}

	if events, err := b.JobUC.ListEvents(ctx, jobID, 20); err == nil && len(events) > 0 {
		sb.WriteString("history:")
		for _, ev := range events {
			sb.WriteString(" " + ev.Type)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (b *BotFacade) HandleCancel(ctx context.Context, jobID string) (string, error) {
	job, err := b.JobUC.Cancel(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return fmt.Sprintf("Job %s already finished.", jobID), nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("No job %s found.", jobID), nil
		}
		return "", err
	}
	if job.State == model.JobStateRunning {
		return fmt.Sprintf("Stopping job %s...", jobID), nil
	}
	return fmt.Sprintf("Job %s cancelled.", jobID), nil
}

func (b *BotFacade) HandleDecision(ctx context.Context, jobID string, decision usecase.ApprovalDecision, note string) (string, error) {
	job, err := b.ApprovalUC.OnDecision(ctx, jobID, decision, note)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyTerminal):
			return fmt.Sprintf("Job %s already finished.", jobID), nil
		case errors.Is(err, domain.ErrStaleTransition):
			return fmt.Sprintf("Job %s is not waiting for approval.", jobID), nil
		case errors.Is(err, domain.ErrNotFound):
			return fmt.Sprintf("No job %s found.", jobID), nil
		}
		return "", err
	}
	metrics.IncApprovalDecision(string(decision))

	switch decision {
	case usecase.DecisionApprove:
		return fmt.Sprintf("Job %s approved; it will run next.", jobID), nil
	case usecase.DecisionReject:
		return fmt.Sprintf("Job %s rejected.", jobID), nil
	default:
		return fmt.Sprintf("Revision noted for job %s; it is back in the queue.", job.ID), nil
	}
}

// HandleCreatePoll builds a manual poll from "question | option | option"
// input. The adapter renders the returned poll natively.
func (b *BotFacade) HandleCreatePoll(ctx context.Context, raw string) (*model.Poll, string, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 {
		return nil, "Usage: /poll question | option 1 | option 2 [| ...]", nil
	}
	question := strings.TrimSpace(parts[0])
	options := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		options = append(options, strings.TrimSpace(p))
	}

	poll, err := b.PollUC.CreateManual(ctx, question, options)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoQuestion):
			return nil, "The poll needs a question.", nil
		case errors.Is(err, domain.ErrTooFewOptions):
			return nil, "A poll needs at least 2 distinct options.", nil
		case errors.Is(err, domain.ErrTooManyOptions):
			return nil, "A poll can have at most 10 options.", nil
		case errors.Is(err, domain.ErrEmptyOption):
			return nil, "Poll options cannot be empty.", nil
		}
		return nil, "", err
	}
	metrics.IncPollCreated(string(poll.Kind))
	return poll, "", nil
}

// HandleVote resolves a vote on a poll, approval polls included.
func (b *BotFacade) HandleVote(ctx context.Context, pollID, voter string, optionIdx int) (string, error) {
	res, err := b.PollUC.CastVoteByIndex(ctx, pollID, voter, optionIdx)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			return "This poll is already decided.", nil
		}
		return "", err
	}
	metrics.IncPollVote(res.Valid)
	if !res.Valid {
		return "", nil
	}

	// An approval poll's resolution doubles as the gate decision.
	if res.Poll.Kind == model.PollKindApproval && res.Poll.LinkedJobID != "" {
		decision := usecase.DecisionReject
		if res.OptionIdx == 0 {
			decision = usecase.DecisionApprove
		}
		return b.HandleDecision(ctx, res.Poll.LinkedJobID, decision, "via poll")
	}

	// A resolved assistant follow-up turns into the next prompt for the
	// session the asking job ran in.
	if res.Poll.Kind == model.PollKindAssistantFollowup && res.Poll.LinkedJobID != "" {
		job, err := b.JobUC.Get(ctx, res.Poll.LinkedJobID)
		if err != nil {
			return "", fmt.Errorf("load job for follow-up: %w", err)
		}
		prompt := fmt.Sprintf("%s\nAnswer: %s", res.Poll.Question, res.Option)
		next, err := b.JobUC.Enqueue(ctx, job.ChatID, job.SessionID, prompt, b.ProfileUC.Snapshot(job.ChatID))
		if err != nil {
			return "", fmt.Errorf("enqueue follow-up: %w", err)
		}
		metrics.IncJobEnqueued()
		return fmt.Sprintf("Decision recorded: %s\nQueued follow-up job %s.", res.Option, next.ID), nil
	}
	return fmt.Sprintf("Decision recorded: %s", res.Option), nil
}

func (b *BotFacade) HandleStatus(ctx context.Context, chatID int64) (string, error) {
	counts, err := b.JobUC.CountByState(ctx)
	if err != nil {
		return "", err
	}
	for _, st := range []model.JobState{
		model.JobStateQueued, model.JobStateAwaitingApproval, model.JobStateApproved,
		model.JobStateRunning, model.JobStateCompleted, model.JobStateFailed,
		model.JobStateCancelled, model.JobStateRejected,
	} {
		metrics.SetJobsInState(string(st), counts[st])
	}

	profile := b.ProfileUC.Snapshot(chatID)
	sb := strings.Builder{}
	sb.WriteString("Queue:\n")
	sb.WriteString(fmt.Sprintf("  queued=%d awaiting_approval=%d running=%d\n",
		counts[model.JobStateQueued]+counts[model.JobStateApproved],
		counts[model.JobStateAwaitingApproval],
		counts[model.JobStateRunning]))
	sb.WriteString("Profile:\n")
	sb.WriteString(fmt.Sprintf("  model=%s effort=%s permissions=%s approvals=%s search=%s\n  workdir=%s\n",
		orDefault(profile.Model), orDefault(profile.ReasoningEffort),
		orDefault(string(profile.PermissionMode)), orDefault(string(profile.ApprovalMode)),
		orDefault(profile.SearchMode), profile.Workdir))

	if s, err := b.SessionUC.Active(ctx, chatID); err == nil {
		sb.WriteString(fmt.Sprintf("Active session: %s (id=%s)\n", s.Name, s.ID))
	} else {
		sb.WriteString("Active session: none\n")
	}
	return sb.String(), nil
}

func (b *BotFacade) HandleSetModel(ctx context.Context, chatID int64, modelName, effort string) (string, error) {
	p, err := b.ProfileUC.SetModel(chatID, modelName, effort)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return err.Error(), nil
		}
		return "", err
	}
	return fmt.Sprintf("model=%s effort=%s", orDefault(p.Model), orDefault(p.ReasoningEffort)), nil
}

func (b *BotFacade) HandleSetPermissions(ctx context.Context, chatID int64, mode string) (string, error) {
	return b.applyProfile(chatID, mode, b.ProfileUC.SetPermissionMode, "permissions")
}

func (b *BotFacade) HandleSetApprovals(ctx context.Context, chatID int64, mode string) (string, error) {
	return b.applyProfile(chatID, mode, b.ProfileUC.SetApprovalMode, "approvals")
}

func (b *BotFacade) HandleSetSearch(ctx context.Context, chatID int64, mode string) (string, error) {
	return b.applyProfile(chatID, mode, b.ProfileUC.SetSearchMode, "search")
}

func (b *BotFacade) applyProfile(chatID int64, mode string, set func(int64, string) (usecase.Profile, error), label string) (string, error) {
	p, err := set(chatID, mode)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return err.Error(), nil
		}
		return "", err
	}
	switch label {
	case "permissions":
		return "permissions=" + orDefault(p.PermissionMode), nil
	case "approvals":
		return "approvals=" + orDefault(p.ApprovalMode), nil
	default:
		return "search=" + orDefault(p.SearchMode), nil
	}
}

func (b *BotFacade) HandleSetWorkdir(ctx context.Context, chatID int64, path string) (string, error) {
	p, err := b.ProfileUC.SetWorkdir(chatID, path)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrPathNotAllowed) {
			return err.Error(), nil
		}
		return "", err
	}
	if p.Workdir == "" {
		return "workdir reset to default", nil
	}
	return "workdir=" + p.Workdir, nil
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
