// File: internal/infra/executor/artifacts.go
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"telegram-agent-runner/internal/config"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
)

// Collector registers files produced under a job's run directory as
// deliverable artifacts, filtered by the extension allow-list and size cap.
type Collector struct {
	jobs    repository.JobRepository
	cfg     *config.ArtifactConfig
	allowed map[string]bool
	log     *zerolog.Logger
}

func NewCollector(jobs repository.JobRepository, cfg *config.ArtifactConfig, log *zerolog.Logger) *Collector {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	l := log.With().Str("component", "artifacts").Logger()
	return &Collector{jobs: jobs, cfg: cfg, allowed: allowed, log: &l}
}

// CollectFromRunDir walks the run directory in lexical order and registers
// every eligible file. Internal log files (stdout.log, stderr.log,
// prompt.txt) are recorded too; delivery filters on kind.
func (c *Collector) CollectFromRunDir(ctx context.Context, jobID, runDir string) ([]*model.Artifact, error) {
	var artifacts []*model.Artifact
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		a, err := c.Register(ctx, jobID, path)
		if err != nil {
			return err
		}
		if a != nil {
			artifacts = append(artifacts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

var (
	backtickPathRe = regexp.MustCompile("`([^`\n]+)`")
	barePathRe     = regexp.MustCompile(`(?:^|[^\w/])([~./]?[A-Za-z0-9_\-./]+\.[A-Za-z0-9]{1,10})`)
)

// CollectFromOutput scans the runner's output text for file paths the agent
// mentions (backtick-quoted first, then bare path-looking tokens), resolves
// them against baseDir and registers the ones that land under an allowed
// root. Paths already recorded for the job are skipped.
func (c *Collector) CollectFromOutput(ctx context.Context, jobID, text, baseDir string, roots []string) ([]*model.Artifact, error) {
	if text == "" {
		return nil, nil
	}
	if len(roots) == 0 {
		roots = []string{baseDir}
	}

	seen := map[string]bool{}
	existing, err := c.jobs.ListArtifacts(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		seen[a.Path] = true
	}

	var added []*model.Artifact
	for _, candidate := range pathCandidates(text) {
		resolved := resolveCandidate(candidate, baseDir, roots)
		if resolved == "" || seen[resolved] {
			continue
		}
		a, err := c.Register(ctx, jobID, resolved)
		if err != nil {
			return added, err
		}
		if a == nil {
			continue
		}
		seen[resolved] = true
		added = append(added, a)
	}
	return added, nil
}

func pathCandidates(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(raw string) {
		c := strings.Trim(strings.TrimSpace(raw), "\"'`")
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, m := range backtickPathRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range barePathRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

// resolveCandidate turns a mention into an absolute path of an existing file
// under one of the allowed roots, or "" when it is not deliverable.
func resolveCandidate(candidate, baseDir string, roots []string) string {
	for _, prefix := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(candidate, prefix) {
			return ""
		}
	}
	if candidate == "~" || strings.HasPrefix(candidate, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		candidate = filepath.Join(home, strings.TrimPrefix(candidate, "~"))
	}
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(baseDir, candidate)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return ""
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return ""
	}
	if !withinAny(abs, roots) {
		return ""
	}
	return abs
}

// Register records a single file as an artifact when it passes the filters.
// Ineligible files return (nil, nil).
func (c *Collector) Register(ctx context.Context, jobID, path string) (*model.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" && !c.allowed[ext] {
		return nil, nil
	}
	if info.Size() == 0 {
		return nil, nil
	}
	if info.Size() > c.cfg.MaxBytes {
		c.log.Debug().Str("job_id", jobID).Str("path", path).Int64("size", info.Size()).Msg("artifact exceeds size cap, skipped")
		return nil, nil
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	a := &model.Artifact{
		JobID:     jobID,
		Kind:      model.KindForExtension(ext),
		Path:      abs,
		Extension: ext,
		SizeBytes: info.Size(),
		SHA256:    sum,
	}
	if err := c.jobs.AddArtifact(ctx, nil, a); err != nil {
		return nil, err
	}
	return a, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
