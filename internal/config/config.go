// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token   string `yaml:"token"`
	OwnerID int64  `yaml:"owner_id"` // only this chat may drive the bot
	Workers int    `yaml:"workers"`  // polling update workers
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	JWTKey string `yaml:"jwt_key"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RunnerConfig describes how the external agent CLI is invoked. Templates use
// {placeholder} substitution points: {workdir} {model} {reasoning-effort}
// {permission-mode} {approval-mode} {search-mode} {session-id} {prompt}.
type RunnerConfig struct {
	EphemeralTemplate string   `yaml:"ephemeral_template"`
	SessionTemplate   string   `yaml:"session_template"`
	Workdir           string   `yaml:"workdir"`
	AllowedWorkdirs   []string `yaml:"allowed_workdirs"`
	RunsDir           string   `yaml:"runs_dir"`
	DefaultModel      string   `yaml:"default_model"`
	DefaultApproval   string   `yaml:"default_approval"` // untrusted|on-failure|on-request|never
	DefaultPermission string   `yaml:"default_permission"`
	Timeout           time.Duration `yaml:"timeout"`
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ArtifactConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxBytes          int64    `yaml:"max_bytes"`
}

type Config struct {
	Bot       BotConfig      `yaml:"bot"`
	Log       LogConfig      `yaml:"log"`
	Admin     AdminConfig    `yaml:"admin"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Runner    RunnerConfig   `yaml:"runner"`
	Worker    WorkerConfig   `yaml:"worker"`
	Artifacts ArtifactConfig `yaml:"artifacts"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 500 * time.Millisecond
	}
	if cfg.Runner.Timeout <= 0 {
		cfg.Runner.Timeout = time.Hour
	}
	if cfg.Runner.EphemeralTemplate == "" {
		cfg.Runner.EphemeralTemplate = "agent exec {prompt}"
	}
	if cfg.Runner.SessionTemplate == "" {
		cfg.Runner.SessionTemplate = "agent exec resume {session-id} {prompt}"
	}
	if cfg.Runner.RunsDir == "" {
		cfg.Runner.RunsDir = "runs"
	}
	if cfg.Runner.DefaultApproval == "" {
		cfg.Runner.DefaultApproval = "on-request"
	}
	if cfg.Runner.DefaultPermission == "" {
		cfg.Runner.DefaultPermission = "workspace-write"
	}
	if cfg.Artifacts.MaxBytes <= 0 {
		cfg.Artifacts.MaxBytes = 50_000_000
	}
	if len(cfg.Artifacts.AllowedExtensions) == 0 {
		cfg.Artifacts.AllowedExtensions = []string{
			".txt", ".log", ".json", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".mp4", ".pdf",
		}
	}
	for i, ext := range cfg.Artifacts.AllowedExtensions {
		cfg.Artifacts.AllowedExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation; dev mode runs without a bot token (noop adapter).
	if cfg.Bot.Token == "" && !cfg.Runtime.Dev {
		return errors.New("bot.token is required")
	}
	if cfg.Bot.OwnerID == 0 && !cfg.Runtime.Dev {
		return errors.New("bot.owner_id is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Runner.Workdir == "" {
		return errors.New("runner.workdir is required")
	}

	abs, err := filepath.Abs(cfg.Runner.Workdir)
	if err != nil {
		return fmt.Errorf("runner.workdir: %w", err)
	}
	cfg.Runner.Workdir = abs
	if len(cfg.Runner.AllowedWorkdirs) == 0 {
		cfg.Runner.AllowedWorkdirs = []string{cfg.Runner.Workdir}
	}
	for i, root := range cfg.Runner.AllowedWorkdirs {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("runner.allowed_workdirs[%d]: %w", i, err)
		}
		cfg.Runner.AllowedWorkdirs[i] = abs
	}
	if !withinAny(cfg.Runner.Workdir, cfg.Runner.AllowedWorkdirs) {
		return errors.New("runner.workdir must be inside runner.allowed_workdirs")
	}

	switch cfg.Runner.DefaultApproval {
	case "untrusted", "on-failure", "on-request", "never":
	default:
		return fmt.Errorf("runner.default_approval: invalid value %q", cfg.Runner.DefaultApproval)
	}
	return nil
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

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
