// Package config provides YAML-based configuration loading for Conductor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zulandar/conductor/internal/ttl"
)

// Config is the top-level Conductor configuration, loaded from conductor.yaml.
// Every tunable in the core (dedup window, TTLs, rate limits, retry
// parameters, timeouts) lives here; core logic carries no magic numbers.
type Config struct {
	StateDir     string             `yaml:"state_dir"` // snapshot directory
	Tracker      TrackerConfig      `yaml:"tracker"`
	Repositories []RepositoryConfig `yaml:"repositories"`
	Dedup        DedupConfig        `yaml:"dedup"`
	TTL          TTLConfig          `yaml:"ttl"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Retry        RetryConfig        `yaml:"retry"`
	Agent        AgentConfig        `yaml:"agent"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Notify       NotifyConfig       `yaml:"notify"`
	Ingress      IngressConfig      `yaml:"ingress"`
	DB           DBConfig           `yaml:"db"`
}

// TrackerConfig holds credentials for the issue tracker API.
type TrackerConfig struct {
	Owner string `yaml:"owner"` // organization or user owning the repos
	Token string `yaml:"token"` // API token; env expansion via ${VAR}
}

// RepositoryConfig is a static routing/workspace target. Immutable after
// load; the router and orchestrator reference entries, never copy them.
type RepositoryConfig struct {
	ID            string   `yaml:"id"`
	Repo          string   `yaml:"repo"` // tracker-side repository name
	TeamKeys      []string `yaml:"team_keys"`
	Labels        []string `yaml:"labels"`
	Projects      []string `yaml:"projects"`
	WorkspaceRoot string   `yaml:"workspace_root"`
	AllowedTools  []string `yaml:"allowed_tools"`
	ReplyInThread bool     `yaml:"reply_in_thread"`
}

// DedupConfig controls the webhook duplicate-suppression window.
type DedupConfig struct {
	WindowSec int `yaml:"window_sec"`
}

// Window returns the dedup window as a duration.
func (c DedupConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// TTLConfig holds per-table expiry settings. Distinct TTLs exist because
// the forgetting semantics differ: a reply-echo guard only needs to survive
// one round trip, while completed-session records are kept for audit.
type TTLConfig struct {
	SweepIntervalSec int    `yaml:"sweep_interval_sec"`
	ReplyGuardSec    int    `yaml:"reply_guard_sec"`
	ReactionSec      int    `yaml:"reaction_sec"`
	PendingInputSec  int    `yaml:"pending_input_sec"`
	SessionRetention string `yaml:"session_retention"`      // duration, e.g. "72h"
	RetentionCron    string `yaml:"session_retention_cron"` // 5-field cron
}

// SweepInterval returns the fast-sweep interval as a duration.
func (c TTLConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// ReplyGuard returns the recent-own-reply guard TTL.
func (c TTLConfig) ReplyGuard() time.Duration {
	return time.Duration(c.ReplyGuardSec) * time.Second
}

// Reaction returns the reaction-marker TTL.
func (c TTLConfig) Reaction() time.Duration {
	return time.Duration(c.ReactionSec) * time.Second
}

// PendingInput returns how long a spawned worker may hold its session in
// Pending before the session is failed and its buffered input dropped.
func (c TTLConfig) PendingInput() time.Duration {
	return time.Duration(c.PendingInputSec) * time.Second
}

// Retention returns the completed-session retention period.
func (c TTLConfig) Retention() time.Duration {
	d, err := time.ParseDuration(c.SessionRetention)
	if err != nil {
		return 0
	}
	return d
}

// RateLimitConfig controls the outbound token bucket.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"` // tokens per second
	Burst int     `yaml:"burst"`
}

// RetryConfig controls outbound call retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	Jitter         float64 `yaml:"jitter"`
}

// InitialDelay returns the initial retry delay as a duration.
func (c RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// AgentConfig controls the coding-agent subprocess.
type AgentConfig struct {
	Binary       string `yaml:"binary"`        // default "claude"
	SystemPrompt string `yaml:"system_prompt"` // appended to every spawn
	TimeoutMin   int    `yaml:"timeout_min"`   // hard cap on one worker run
}

// Timeout returns the subprocess hard cap as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMin) * time.Minute
}

// SessionsConfig controls session lifecycle policy.
type SessionsConfig struct {
	IdleTimeoutSec int `yaml:"idle_timeout_sec"` // Active with no output → stalled
}

// IdleTimeout returns the stall threshold for Active sessions.
func (c SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// NotifyConfig selects the operator alert channel.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord", or "" (disabled)
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for operator alerts.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials for operator alerts.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// IngressConfig controls the inbound event HTTP listener.
type IngressConfig struct {
	Port int `yaml:"port"`
}

// DBConfig selects the audit database backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`   // mysql
	Port     int    `yaml:"port"`   // mysql
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. ${VAR} references in
// secret-bearing fields expand from the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	c.Tracker.Token = os.ExpandEnv(c.Tracker.Token)
	c.Notify.Slack.BotToken = os.ExpandEnv(c.Notify.Slack.BotToken)
	c.Notify.Discord.BotToken = os.ExpandEnv(c.Notify.Discord.BotToken)
	c.DB.Password = os.ExpandEnv(c.DB.Password)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = "state"
	}
	if c.Dedup.WindowSec == 0 {
		c.Dedup.WindowSec = 300
	}
	if c.TTL.SweepIntervalSec == 0 {
		c.TTL.SweepIntervalSec = 30
	}
	if c.TTL.ReplyGuardSec == 0 {
		c.TTL.ReplyGuardSec = 120
	}
	if c.TTL.ReactionSec == 0 {
		c.TTL.ReactionSec = 600
	}
	if c.TTL.PendingInputSec == 0 {
		c.TTL.PendingInputSec = 1800
	}
	if c.TTL.SessionRetention == "" {
		c.TTL.SessionRetention = "72h"
	}
	if c.TTL.RetentionCron == "" {
		c.TTL.RetentionCron = "0 3 * * *"
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 500
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 30000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 0.2
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = "claude"
	}
	if c.Agent.TimeoutMin == 0 {
		c.Agent.TimeoutMin = 30
	}
	if c.Sessions.IdleTimeoutSec == 0 {
		c.Sessions.IdleTimeoutSec = 300
	}
	if c.Ingress.Port == 0 {
		c.Ingress.Port = 8484
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "conductor.db"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
	}
	for i := range c.Repositories {
		if c.Repositories[i].ID == "" {
			c.Repositories[i].ID = c.Repositories[i].Repo
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Tracker.Owner == "" {
		errs = append(errs, "tracker.owner is required")
	}
	if len(c.Repositories) == 0 {
		errs = append(errs, "at least one repository is required")
	}
	seen := make(map[string]bool)
	for i, r := range c.Repositories {
		if r.Repo == "" {
			errs = append(errs, fmt.Sprintf("repositories[%d].repo is required", i))
		}
		if r.WorkspaceRoot == "" {
			errs = append(errs, fmt.Sprintf("repositories[%d].workspace_root is required", i))
		}
		if r.ID != "" && seen[r.ID] {
			errs = append(errs, fmt.Sprintf("repositories[%d].id %q is not unique", i, r.ID))
		}
		seen[r.ID] = true
	}
	if c.TTL.Retention() <= 0 {
		errs = append(errs, fmt.Sprintf("ttl.session_retention %q is not a valid duration", c.TTL.SessionRetention))
	}
	if !ttl.ValidCron(c.TTL.RetentionCron) {
		errs = append(errs, fmt.Sprintf("ttl.session_retention_cron %q is not a valid cron expression", c.TTL.RetentionCron))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, "retry.jitter must be in [0, 1)")
	}
	switch c.Notify.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported (slack, discord)", c.Notify.Platform))
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
