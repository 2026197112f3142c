package router

import (
	"testing"

	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/event"
)

func testRepos() []config.RepositoryConfig {
	return []config.RepositoryConfig{
		{ID: "backend", Repo: "acme-backend", TeamKeys: []string{"BE"}, Labels: []string{"backend", "api"}, Projects: []string{"Platform"}},
		{ID: "frontend", Repo: "acme-frontend", TeamKeys: []string{"FE"}, Labels: []string{"frontend"}, Projects: []string{"Platform"}},
	}
}

func eventWith(data event.Data) event.Event {
	return event.Event{ID: "ev-1", Type: "comment", Action: "create", Data: data}
}

func TestRoute_ByTeamKey(t *testing.T) {
	r, err := New(testRepos())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := r.Route(eventWith(event.Data{ResourceID: "c-1", TeamKey: "FE"}))
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Config.ID != "frontend" {
		t.Errorf("routed to %s, want frontend", m.Config.ID)
	}
	if m.Rule != RuleTeamKey {
		t.Errorf("Rule = %s, want team_key", m.Rule)
	}
}

func TestRoute_ByLabel(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", Labels: []string{"api"}}))
	if m == nil || m.Config.ID != "backend" || m.Rule != RuleLabel {
		t.Fatalf("got %+v, want backend via label", m)
	}
}

func TestRoute_ByProject(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", ProjectName: "Platform"}))
	if m == nil || m.Rule != RuleProject {
		t.Fatalf("got %+v, want a project match", m)
	}
	// Both repos carry the project; declaration order breaks the tie.
	if m.Config.ID != "backend" {
		t.Errorf("routed to %s, want backend (declared first)", m.Config.ID)
	}
}

func TestRoute_TeamKeyBeatsLabel(t *testing.T) {
	r, _ := New(testRepos())
	// Team key says frontend, label says backend: the explicit team
	// assignment wins.
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", TeamKey: "FE", Labels: []string{"backend"}}))
	if m == nil || m.Config.ID != "frontend" || m.Rule != RuleTeamKey {
		t.Fatalf("got %+v, want frontend via team_key", m)
	}
}

func TestRoute_LabelBeatsProject(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", Labels: []string{"frontend"}, ProjectName: "Platform"}))
	if m == nil || m.Config.ID != "frontend" || m.Rule != RuleLabel {
		t.Fatalf("got %+v, want frontend via label", m)
	}
}

func TestRoute_HintBeatsEverything(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", RepositoryHint: "acme-backend", TeamKey: "FE"}))
	if m == nil || m.Config.ID != "backend" || m.Rule != RuleHint {
		t.Fatalf("got %+v, want backend via hint", m)
	}
}

func TestRoute_CaseInsensitive(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", TeamKey: "be"}))
	if m == nil || m.Config.ID != "backend" {
		t.Fatalf("got %+v, want backend via lowercased team key", m)
	}
}

func TestRoute_Unroutable(t *testing.T) {
	r, _ := New(testRepos())
	m := r.Route(eventWith(event.Data{ResourceID: "c-1", TeamKey: "OPS", Labels: []string{"infra"}}))
	if m != nil {
		t.Fatalf("expected nil for an unroutable event, got %+v", m)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r, _ := New(testRepos())
	ev := eventWith(event.Data{ResourceID: "c-1", ProjectName: "platform"})
	first := r.Route(ev)
	for i := 0; i < 10; i++ {
		m := r.Route(ev)
		if m.Config.ID != first.Config.ID || m.Rule != first.Rule {
			t.Fatal("routing must be deterministic for identical events")
		}
	}
}

func TestNew_RequiresRepos(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty repository list")
	}
}
