// File: internal/infra/executor/template.go
package executor

import (
	"fmt"
	"regexp"
	"strings"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
)

// placeholderRe matches a {name} substitution point in a template.
var placeholderRe = regexp.MustCompile(`\{[a-z][a-z0-9-]*\}`)

var knownPlaceholders = map[string]bool{
	"{prompt}": true, "{session-id}": true, "{workdir}": true,
	"{model}": true, "{reasoning-effort}": true, "{permission-mode}": true,
	"{approval-mode}": true, "{search-mode}": true,
}

// shellQuote wraps s in single quotes the way POSIX shells expect, escaping
// embedded single quotes. Empty strings render as ''.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RenderCommand substitutes the job's parameters into the configured command
// template. Free-text values are shell-quoted; enum values are injected
// verbatim since they come from validated allow-lists.
func RenderCommand(template string, job *model.Job, sessionID string) (string, error) {
	// Reject templates referencing variables this renderer does not provide
	// before anything reaches the shell. The check runs on the template, not
	// the rendered command, so braces inside prompt text stay harmless.
	for _, ph := range placeholderRe.FindAllString(template, -1) {
		if !knownPlaceholders[ph] {
			return "", fmt.Errorf("command template has unresolved placeholder %s: %w", ph, domain.ErrInvalidArgument)
		}
	}

	prompt := job.Prompt
	if job.Annotation != "" {
		prompt += "\n\nRevision request: " + job.Annotation
	}

	replacer := strings.NewReplacer(
		"{prompt}", shellQuote(prompt),
		"{session-id}", shellQuote(sessionID),
		"{workdir}", shellQuote(job.Params.Workdir),
		"{model}", shellQuote(job.Params.Model),
		"{reasoning-effort}", string(job.Params.ReasoningEffort),
		"{permission-mode}", string(job.Params.PermissionMode),
		"{approval-mode}", string(job.Params.ApprovalMode),
		"{search-mode}", job.Params.SearchMode,
	)
	command := strings.TrimSpace(replacer.Replace(template))
	if command == "" {
		return "", fmt.Errorf("command template rendered empty: %w", domain.ErrInvalidArgument)
	}
	return command, nil
}
