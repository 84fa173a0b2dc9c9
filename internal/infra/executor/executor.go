// File: internal/infra/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"telegram-agent-runner/internal/config"
	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/infra/logging"
)

const tailChars = 3200

// Result captures the outcome of one external runner invocation.
type Result struct {
	ExitCode   int
	Summary    string
	ErrorText  string
	RunDir     string
	StdoutPath string
	StderrPath string
	TimedOut   bool
	Killed     bool
}

// Runner shells out to the external agent CLI. One invocation per job; the
// worker guarantees only one runs at a time.
type Runner struct {
	cfg *config.RunnerConfig
	log *zerolog.Logger
}

func NewRunner(cfg *config.RunnerConfig, log *zerolog.Logger) *Runner {
	l := log.With().Str("component", "executor").Logger()
	return &Runner{cfg: cfg, log: &l}
}

// RunDir returns the per-job directory holding prompt, logs and outputs.
func (r *Runner) RunDir(jobID string) string {
	return filepath.Join(r.cfg.RunsDir, jobID)
}

// WorkdirFor returns the directory the job's command runs in: the profile
// override when set, the configured default otherwise.
func (r *Runner) WorkdirFor(job *model.Job) string {
	if job.Params.Workdir != "" {
		return job.Params.Workdir
	}
	return r.cfg.Workdir
}

// AllowedRoots returns the workdir allow-list.
func (r *Runner) AllowedRoots() []string {
	return r.cfg.AllowedWorkdirs
}

// Execute runs the job's command to completion. onStart receives the child
// pid as soon as the process is spawned so it can be persisted for crash
// recovery. ctx cancellation kills the process.
func (r *Runner) Execute(ctx context.Context, job *model.Job, onStart func(pid int)) (*Result, error) {
	defer logging.TraceDuration(r.log, "Runner.Execute")()

	workdir := r.WorkdirFor(job)
	if !withinAny(workdir, r.cfg.AllowedWorkdirs) {
		return nil, fmt.Errorf("workdir %s: %w", workdir, domain.ErrPathNotAllowed)
	}
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workdir %s does not exist or is not a directory: %w", workdir, domain.ErrInvalidArgument)
	}

	template := r.cfg.EphemeralTemplate
	if job.SessionID != "" {
		template = r.cfg.SessionTemplate
	}
	command, err := RenderCommand(template, job, job.SessionID)
	if err != nil {
		return nil, err
	}

	runDir := r.RunDir(job.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	stdoutPath := filepath.Join(runDir, "stdout.log")
	stderrPath := filepath.Join(runDir, "stderr.log")
	if err := os.WriteFile(filepath.Join(runDir, "prompt.txt"), []byte(job.Prompt), 0o644); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer stderrFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workdir
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = append(os.Environ(), "JOB_ID="+job.ID)
	// The shell gets its own process group so cancellation and timeouts take
	// down any children it spawned, not just the shell itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runner: %w", err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	r.log.Debug().Str("job_id", job.ID).Int("pid", cmd.Process.Pid).Str("workdir", workdir).Msg("runner started")

	waitErr := cmd.Wait()

	res := &Result{
		RunDir:     runDir,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		ExitCode:   exitCodeOf(cmd, waitErr),
	}
	stdoutTail := tailFile(stdoutPath)
	stderrTail := tailFile(stderrPath)

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = 124
		res.Summary = "Timed out while executing runner command"
		res.ErrorText = fmt.Sprintf("job exceeded the %s timeout", r.cfg.Timeout)
	case ctx.Err() != nil:
		res.Killed = true
		res.Summary = "Cancelled."
		res.ErrorText = "execution cancelled"
	case waitErr == nil:
		res.Summary = r.readSummary(runDir, stdoutTail)
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait runner: %w", waitErr)
		}
		res.Summary = "Execution failed."
		res.ErrorText = stderrTail
		if res.ErrorText == "" {
			res.ErrorText = stdoutTail
		}
		if res.ErrorText == "" {
			res.ErrorText = "no error output captured"
		}
	}

	r.log.Info().
		Str("job_id", job.ID).
		Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Dur("duration", time.Since(started)).
		Msg("runner finished")
	return res, nil
}

// readSummary prefers the runner's final-message file when the CLI writes
// one; otherwise the stdout tail stands in.
func (r *Runner) readSummary(runDir, stdoutTail string) string {
	b, err := os.ReadFile(filepath.Join(runDir, "last_message.txt"))
	if err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			return s
		}
	}
	if stdoutTail != "" {
		return stdoutTail
	}
	return "Completed."
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return 1
	}
	return 0
}

func tailFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := string(b)
	if len(text) > tailChars {
		text = text[len(text)-tailChars:]
	}
	return strings.TrimSpace(text)
}

// ProcessAlive reports whether pid refers to a live process. Signal 0 probes
// existence without touching the target.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
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
