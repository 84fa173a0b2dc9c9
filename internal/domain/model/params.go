package model

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type ApprovalMode string

const (
	ApprovalUntrusted ApprovalMode = "untrusted"
	ApprovalOnFailure ApprovalMode = "on-failure"
	ApprovalOnRequest ApprovalMode = "on-request"
	ApprovalNever     ApprovalMode = "never"
)

type PermissionMode string

const (
	PermissionReadOnly       PermissionMode = "read-only"
	PermissionWorkspaceWrite PermissionMode = "workspace-write"
	PermissionFullAccess     PermissionMode = "danger-full-access"
)

// TemplateParams is the per-job snapshot of runtime overrides. It is
// captured at enqueue time so later /model, /permissions etc. changes do
// not retroactively alter queued jobs.
type TemplateParams struct {
	Model           string
	ReasoningEffort string
	PermissionMode  PermissionMode
	ApprovalMode    ApprovalMode
	SearchMode      string
	Workdir         string
}
