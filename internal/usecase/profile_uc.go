// File: internal/usecase/profile_uc.go
package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"telegram-agent-runner/internal/config"
	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
)

// Compile-time check
var _ ProfileUseCase = (*profileUC)(nil)

// Profile holds a chat's runtime overrides. Zero values mean "use the
// configured default"; Snapshot resolves them at enqueue time.
type Profile struct {
	Model           string
	ReasoningEffort string
	PermissionMode  string
	ApprovalMode    string
	SearchMode      string
	Workdir         string
}

// ProfileUseCase manages per-chat runtime overrides for the slash commands
// /model, /permissions, /approvals, /search and /workdir. Overrides live in
// process memory only: they are operator convenience state, and a restart
// falling back to configured defaults is the safe direction.
type ProfileUseCase interface {
	Get(chatID int64) Profile
	// Snapshot resolves overrides against configured defaults into the
	// immutable params recorded on a job.
	Snapshot(chatID int64) model.TemplateParams
	SetModel(chatID int64, modelName, reasoningEffort string) (Profile, error)
	SetPermissionMode(chatID int64, mode string) (Profile, error)
	SetApprovalMode(chatID int64, mode string) (Profile, error)
	SetSearchMode(chatID int64, mode string) (Profile, error)
	SetWorkdir(chatID int64, path string) (Profile, error)
	Reset(chatID int64) Profile
}

var allowedReasoningEfforts = map[string]bool{
	"minimal": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

var allowedSearchModes = map[string]bool{
	"live": true, "cached": true, "disabled": true,
}

var allowedPermissionModes = map[string]bool{
	string(model.PermissionReadOnly):       true,
	string(model.PermissionWorkspaceWrite): true,
	string(model.PermissionFullAccess):     true,
}

var allowedApprovalModes = map[string]bool{
	string(model.ApprovalUntrusted): true,
	string(model.ApprovalOnFailure): true,
	string(model.ApprovalOnRequest): true,
	string(model.ApprovalNever):     true,
}

type profileUC struct {
	cfg *config.RunnerConfig

	mu       sync.Mutex
	profiles map[int64]*Profile
}

func NewProfileUseCase(cfg *config.RunnerConfig) *profileUC {
	return &profileUC{cfg: cfg, profiles: map[int64]*Profile{}}
}

func (u *profileUC) get(chatID int64) *Profile {
	p, ok := u.profiles[chatID]
	if !ok {
		p = &Profile{}
		u.profiles[chatID] = p
	}
	return p
}

func (u *profileUC) Get(chatID int64) Profile {
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.get(chatID)
}

func (u *profileUC) Snapshot(chatID int64) model.TemplateParams {
	u.mu.Lock()
	p := *u.get(chatID)
	u.mu.Unlock()

	params := model.TemplateParams{
		Model:           p.Model,
		ReasoningEffort: p.ReasoningEffort,
		PermissionMode:  model.PermissionMode(p.PermissionMode),
		ApprovalMode:    model.ApprovalMode(p.ApprovalMode),
		SearchMode:      p.SearchMode,
		Workdir:         p.Workdir,
	}
	if params.Model == "" {
		params.Model = u.cfg.DefaultModel
	}
	if params.PermissionMode == "" {
		params.PermissionMode = model.PermissionMode(u.cfg.DefaultPermission)
	}
	if params.ApprovalMode == "" {
		params.ApprovalMode = model.ApprovalMode(u.cfg.DefaultApproval)
	}
	if params.Workdir == "" {
		params.Workdir = u.cfg.Workdir
	}
	return params
}

func (u *profileUC) SetModel(chatID int64, modelName, reasoningEffort string) (Profile, error) {
	effort := strings.ToLower(strings.TrimSpace(reasoningEffort))
	if effort != "" && !allowedReasoningEfforts[effort] {
		return Profile{}, fmt.Errorf("reasoning effort %q (allowed: %s): %w",
			reasoningEffort, allowedList(allowedReasoningEfforts), domain.ErrInvalidArgument)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.get(chatID)
	p.Model = strings.TrimSpace(modelName)
	if reasoningEffort != "" {
		p.ReasoningEffort = effort
	}
	return *p, nil
}

func (u *profileUC) SetPermissionMode(chatID int64, mode string) (Profile, error) {
	return u.setEnum(chatID, mode, allowedPermissionModes, "permissions mode", func(p *Profile, v string) {
		p.PermissionMode = v
	})
}

func (u *profileUC) SetApprovalMode(chatID int64, mode string) (Profile, error) {
	return u.setEnum(chatID, mode, allowedApprovalModes, "approvals policy", func(p *Profile, v string) {
		p.ApprovalMode = v
	})
}

func (u *profileUC) SetSearchMode(chatID int64, mode string) (Profile, error) {
	return u.setEnum(chatID, mode, allowedSearchModes, "search mode", func(p *Profile, v string) {
		p.SearchMode = v
	})
}

func (u *profileUC) setEnum(chatID int64, mode string, allowed map[string]bool, label string, apply func(*Profile, string)) (Profile, error) {
	normalized := strings.ToLower(strings.TrimSpace(mode))

	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.get(chatID)
	if normalized == "" || normalized == "reset" {
		apply(p, "")
		return *p, nil
	}
	if !allowed[normalized] {
		return Profile{}, fmt.Errorf("%s %q (allowed: %s): %w", label, mode, allowedList(allowed), domain.ErrInvalidArgument)
	}
	apply(p, normalized)
	return *p, nil
}

func (u *profileUC) SetWorkdir(chatID int64, path string) (Profile, error) {
	path = strings.TrimSpace(path)

	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.get(chatID)

	if path == "" || path == "reset" {
		p.Workdir = ""
		return *p, nil
	}

	base := p.Workdir
	if base == "" {
		base = u.cfg.Workdir
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	candidate = filepath.Clean(candidate)

	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return Profile{}, fmt.Errorf("workdir %s does not exist or is not a directory: %w", candidate, domain.ErrInvalidArgument)
	}
	if !withinAny(candidate, u.cfg.AllowedWorkdirs) {
		return Profile{}, fmt.Errorf("workdir %s (allowed roots: %s): %w",
			candidate, strings.Join(u.cfg.AllowedWorkdirs, ", "), domain.ErrPathNotAllowed)
	}

	p.Workdir = candidate
	return *p, nil
}

func (u *profileUC) Reset(chatID int64) Profile {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.profiles[chatID] = &Profile{}
	return Profile{}
}

func withinAny(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func allowedList(m map[string]bool) string {
	vals := make([]string, 0, len(m))
	for v := range m {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, ", ")
}
