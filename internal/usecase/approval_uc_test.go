// File: internal/usecase/approval_uc_test.go
package usecase

import (
	"context"
	"errors"
	"testing"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/adapter"
)

func queuedJob(prompt string, params model.TemplateParams) *model.Job {
	return model.NewJob(7, "", prompt, params)
}

func TestClassifyPrompt_RiskLevels(t *testing.T) {
	t.Parallel()

	uc := NewApprovalUseCase(newMemJobRepo(), newMemPollRepo(), newMockChat())

	cases := []struct {
		name   string
		prompt string
		want   model.RiskLevel
	}{
		{"plain prompt", "summarize the readme", model.RiskLow},
		{"rm -rf", "clean up with rm -rf /tmp/build", model.RiskHigh},
		{"dd onto a device", "run dd if=/dev/zero of=/dev/sda", model.RiskHigh},
		{"fork bomb", "try :(){ :|:& };:", model.RiskHigh},
		{"mixed case", "RM -RF the cache dir", model.RiskHigh},
		{"sudo", "sudo systemctl restart nginx", model.RiskMedium},
		{"git push", "commit and git push to main", model.RiskMedium},
		{"pip install", "pip install requests and run the script", model.RiskMedium},
		{"rm without -rf", "rm the temp file", model.RiskMedium},
	}
	for _, tc := range cases {
		job := queuedJob(tc.prompt, model.TemplateParams{ApprovalMode: model.ApprovalOnRequest})
		level, _, _ := uc.Classify(job)
		if level != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, level)
		}
	}
}

func TestClassify_ApprovalModes(t *testing.T) {
	t.Parallel()

	uc := NewApprovalUseCase(newMemJobRepo(), newMemPollRepo(), newMockChat())

	cases := []struct {
		name   string
		prompt string
		params model.TemplateParams
		want   bool
	}{
		{
			"never skips even high risk",
			"rm -rf /",
			model.TemplateParams{ApprovalMode: model.ApprovalNever},
			false,
		},
		{
			"untrusted gates everything",
			"summarize the readme",
			model.TemplateParams{ApprovalMode: model.ApprovalUntrusted},
			true,
		},
		{
			"full access always gates",
			"summarize the readme",
			model.TemplateParams{ApprovalMode: model.ApprovalOnRequest, PermissionMode: model.PermissionFullAccess},
			true,
		},
		{
			"medium risk gates",
			"sudo apt upgrade",
			model.TemplateParams{ApprovalMode: model.ApprovalOnRequest},
			true,
		},
		{
			"low risk passes",
			"summarize the readme",
			model.TemplateParams{ApprovalMode: model.ApprovalOnRequest},
			false,
		},
	}
	for _, tc := range cases {
		_, needs, reason := uc.Classify(queuedJob(tc.prompt, tc.params))
		if needs != tc.want {
			t.Fatalf("%s: expected needsApproval=%v (reason %q)", tc.name, tc.want, reason)
		}
	}
}

func TestRequestApproval_ChecklistTransport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	chat := newMockChat(adapter.CapabilityPoll, adapter.CapabilityChecklist)
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), chat)

	job := queuedJob("sudo make install", model.TemplateParams{ApprovalMode: model.ApprovalOnRequest})
	if err := jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := uc.RequestApproval(ctx, job); err != nil {
		t.Fatalf("RequestApproval returned error: %v", err)
	}
	if job.State != model.JobStateAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", job.State)
	}
	if job.RiskLevel != model.RiskMedium {
		t.Fatalf("expected medium risk recorded, got %s", job.RiskLevel)
	}

	if len(chat.rows) != 1 || len(chat.rows[0]) != 3 {
		t.Fatalf("expected one checklist with 3 rows, got %v", chat.rows)
	}
	if got := chat.rows[0][0][0].Data; got != "apr:"+job.ID+":approve" {
		t.Fatalf("unexpected callback data %q", got)
	}
	if len(chat.polls) != 0 {
		t.Fatalf("checklist transport must not fall back to a poll")
	}
}

func TestRequestApproval_PollFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	polls := newMemPollRepo()
	chat := newMockChat(adapter.CapabilityPoll)
	uc := NewApprovalUseCase(jobs, polls, chat)

	job := queuedJob("sudo make install", model.TemplateParams{ApprovalMode: model.ApprovalOnRequest})
	if err := jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := uc.RequestApproval(ctx, job); err != nil {
		t.Fatalf("RequestApproval returned error: %v", err)
	}

	if len(chat.polls) != 1 {
		t.Fatalf("expected one approval poll, got %d", len(chat.polls))
	}
	poll := chat.polls[0]
	if poll.Kind != model.PollKindApproval || poll.LinkedJobID != job.ID {
		t.Fatalf("unexpected poll linkage: %+v", poll)
	}
	if len(poll.Options) != 2 || poll.Options[0] != ApprovalOptionApprove {
		t.Fatalf("unexpected poll options %v", poll.Options)
	}

	if _, err := polls.FindOpenByJob(ctx, nil, job.ID); err != nil {
		t.Fatalf("approval poll must be persisted open: %v", err)
	}
}

func awaitingJob(t *testing.T, jobs *memJobRepo, prompt string) *model.Job {
	t.Helper()
	ctx := context.Background()
	job := queuedJob(prompt, model.TemplateParams{ApprovalMode: model.ApprovalUntrusted})
	job.State = model.JobStateAwaitingApproval
	if err := jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	return job
}

func TestOnDecision_Approve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), newMockChat())

	job := awaitingJob(t, jobs, "do the thing")
	got, err := uc.OnDecision(ctx, job.ID, DecisionApprove, "")
	if err != nil {
		t.Fatalf("OnDecision returned error: %v", err)
	}
	if got.State != model.JobStateApproved {
		t.Fatalf("expected approved, got %s", got.State)
	}
}

func TestOnDecision_RejectRecordsNote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), newMockChat())

	job := awaitingJob(t, jobs, "do the thing")
	got, err := uc.OnDecision(ctx, job.ID, DecisionReject, "too risky")
	if err != nil {
		t.Fatalf("OnDecision returned error: %v", err)
	}
	if got.State != model.JobStateRejected {
		t.Fatalf("expected rejected, got %s", got.State)
	}
	if got.FinishedAt == nil {
		t.Fatal("rejected job must carry FinishedAt")
	}
	if got.Annotation != "too risky" {
		t.Fatalf("expected note recorded, got %q", got.Annotation)
	}
}

func TestOnDecision_ReviseReturnsToQueued(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), newMockChat())

	job := awaitingJob(t, jobs, "do the thing")
	got, err := uc.OnDecision(ctx, job.ID, DecisionRevise, "use the staging cluster")
	if err != nil {
		t.Fatalf("OnDecision returned error: %v", err)
	}
	if got.State != model.JobStateQueued {
		t.Fatalf("revise must return the job to the queue, got %s", got.State)
	}
	if got.Annotation != "use the staging cluster" {
		t.Fatalf("expected annotation, got %q", got.Annotation)
	}
	if got.FinishedAt != nil {
		t.Fatal("a revised job is not terminal")
	}

	// The job left awaiting_approval, so a second decision is stale.
	if _, err := uc.OnDecision(ctx, job.ID, DecisionApprove, ""); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition after revise, got %v", err)
	}
}

func TestOnDecision_TerminalJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), newMockChat())

	job := queuedJob("done already", model.TemplateParams{})
	job.State = model.JobStateCompleted
	if err := jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := uc.OnDecision(ctx, job.ID, DecisionApprove, ""); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestOnDecision_NotAwaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	uc := NewApprovalUseCase(jobs, newMemPollRepo(), newMockChat())

	job := queuedJob("still queued", model.TemplateParams{})
	if err := jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := uc.OnDecision(ctx, job.ID, DecisionApprove, ""); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}
}

func TestOnDecision_ResolvesLinkedPoll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobRepo()
	polls := newMemPollRepo()
	uc := NewApprovalUseCase(jobs, polls, newMockChat())

	job := awaitingJob(t, jobs, "do the thing")
	poll := model.NewPoll(model.PollKindApproval, job.ID, "Run it?", []string{ApprovalOptionApprove, ApprovalOptionReject})
	if err := polls.Save(ctx, nil, poll); err != nil {
		t.Fatalf("save poll: %v", err)
	}

	if _, err := uc.OnDecision(ctx, job.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("OnDecision returned error: %v", err)
	}

	saved, err := polls.FindByID(ctx, nil, poll.ID)
	if err != nil {
		t.Fatalf("find poll: %v", err)
	}
	if !saved.Resolved() || saved.Resolution != ApprovalOptionApprove {
		t.Fatalf("expected linked poll resolved to approve, got %+v", saved)
	}
}
