package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
tracker:
  owner: acme
repositories:
  - repo: acme-backend
    workspace_root: /srv/work/backend
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracker.Owner != "acme" {
		t.Errorf("Owner = %q, want %q", cfg.Tracker.Owner, "acme")
	}
	if len(cfg.Repositories) != 1 {
		t.Fatalf("Repositories = %d, want 1", len(cfg.Repositories))
	}
	// ID defaults to the repo name.
	if cfg.Repositories[0].ID != "acme-backend" {
		t.Errorf("ID = %q, want %q", cfg.Repositories[0].ID, "acme-backend")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Dedup.Window() != 5*time.Minute {
		t.Errorf("Dedup.Window = %v, want 5m", cfg.Dedup.Window())
	}
	if cfg.TTL.SweepInterval() != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.TTL.SweepInterval())
	}
	if cfg.TTL.Retention() != 72*time.Hour {
		t.Errorf("Retention = %v, want 72h", cfg.TTL.Retention())
	}
	if cfg.TTL.RetentionCron != "0 3 * * *" {
		t.Errorf("RetentionCron = %q", cfg.TTL.RetentionCron)
	}
	if cfg.RateLimit.Rate != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v, want rate 5 burst 10", cfg.RateLimit)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialDelay() != 500*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 500ms", cfg.Retry.InitialDelay())
	}
	if cfg.Agent.Binary != "claude" {
		t.Errorf("Agent.Binary = %q, want claude", cfg.Agent.Binary)
	}
	if cfg.Agent.Timeout() != 30*time.Minute {
		t.Errorf("Agent.Timeout = %v, want 30m", cfg.Agent.Timeout())
	}
	if cfg.Sessions.IdleTimeout() != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.Sessions.IdleTimeout())
	}
	if cfg.Ingress.Port != 8484 {
		t.Errorf("Ingress.Port = %d, want 8484", cfg.Ingress.Port)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "conductor.db" {
		t.Errorf("DB = %+v, want sqlite conductor.db", cfg.DB)
	}
	if cfg.StateDir != "state" {
		t.Errorf("StateDir = %q, want state", cfg.StateDir)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_TOKEN", "sekrit")
	cfg, err := Parse([]byte(`
tracker:
  owner: acme
  token: ${CONDUCTOR_TEST_TOKEN}
repositories:
  - repo: acme-backend
    workspace_root: /srv/work/backend
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracker.Token != "sekrit" {
		t.Errorf("Token = %q, want expanded value", cfg.Tracker.Token)
	}
}

func TestParse_MissingOwner(t *testing.T) {
	_, err := Parse([]byte(`
repositories:
  - repo: acme-backend
    workspace_root: /srv/work/backend
`))
	if err == nil || !strings.Contains(err.Error(), "tracker.owner") {
		t.Fatalf("err = %v, want tracker.owner validation failure", err)
	}
}

func TestParse_NoRepositories(t *testing.T) {
	_, err := Parse([]byte("tracker:\n  owner: acme\n"))
	if err == nil || !strings.Contains(err.Error(), "at least one repository") {
		t.Fatalf("err = %v, want repository validation failure", err)
	}
}

func TestParse_DuplicateRepoID(t *testing.T) {
	_, err := Parse([]byte(`
tracker:
  owner: acme
repositories:
  - id: dup
    repo: a
    workspace_root: /srv/a
  - id: dup
    repo: b
    workspace_root: /srv/b
`))
	if err == nil || !strings.Contains(err.Error(), "not unique") {
		t.Fatalf("err = %v, want duplicate ID failure", err)
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
repositories:
  - repo: ""
ttl:
  session_retention: banana
`))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"tracker.owner", "repo is required", "workspace_root", "session_retention"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestParse_BadPlatform(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
notify:
  platform: telegram
`))
	if err == nil || !strings.Contains(err.Error(), "notify.platform") {
		t.Fatalf("err = %v, want platform validation failure", err)
	}
}

func TestParse_BadDriver(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
db:
  driver: postgres
`))
	if err == nil || !strings.Contains(err.Error(), "db.driver") {
		t.Fatalf("err = %v, want driver validation failure", err)
	}
}

func TestParse_BadRetentionCron(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
ttl:
  session_retention_cron: "not a cron"
`))
	if err == nil || !strings.Contains(err.Error(), "session_retention_cron") {
		t.Fatalf("err = %v, want retention cron validation failure", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("tracker: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/conductor.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
db:
  driver: mysql
  database: conductor
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DB.Host != "127.0.0.1" || cfg.DB.Port != 3306 {
		t.Errorf("DB = %+v, want default mysql host/port", cfg.DB)
	}
}
