// Package router maps validated inbound events to configured repository
// targets using team-key, label, and project matching rules.
package router

import (
	"fmt"
	"strings"

	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/event"
)

// Rule identifies which matching rule selected a repository. Higher values
// take precedence: an explicit team key beats a label, which beats a
// project name.
type Rule int

const (
	RuleNone Rule = iota
	RuleProject
	RuleLabel
	RuleTeamKey
	RuleHint // exact repository hint from the event payload
)

// String returns the rule name for logging.
func (r Rule) String() string {
	switch r {
	case RuleHint:
		return "hint"
	case RuleTeamKey:
		return "team_key"
	case RuleLabel:
		return "label"
	case RuleProject:
		return "project"
	default:
		return "none"
	}
}

// Match is a successful routing decision: the selected repository and the
// rule that selected it.
type Match struct {
	Config *config.RepositoryConfig
	Rule   Rule
}

// Router routes events to repository configs. Routing is deterministic:
// rule precedence first (hint > team key > label > project), declaration
// order on remaining ties. Silent nondeterminism here would be a
// correctness bug, so the ordering is fixed and documented.
type Router struct {
	repos []config.RepositoryConfig
}

// New creates a Router over the configured repositories. The slice is
// referenced, not copied; RepositoryConfig entries are immutable after load.
func New(repos []config.RepositoryConfig) (*Router, error) {
	if len(repos) == 0 {
		return nil, fmt.Errorf("router: at least one repository is required")
	}
	return &Router{repos: repos}, nil
}

// Route returns the best match for ev, or nil if no repository matches.
// An unroutable event is a normal, non-fatal outcome (configuration drift
// is expected in production); the caller logs and optionally alerts.
func (r *Router) Route(ev event.Event) *Match {
	best := (*Match)(nil)
	for i := range r.repos {
		rule := matchRule(&r.repos[i], ev)
		if rule == RuleNone {
			continue
		}
		// Strict > keeps declaration order on ties.
		if best == nil || rule > best.Rule {
			best = &Match{Config: &r.repos[i], Rule: rule}
		}
	}
	return best
}

// matchRule returns the strongest rule under which repo matches ev.
func matchRule(repo *config.RepositoryConfig, ev event.Event) Rule {
	if hint := ev.Data.RepositoryHint; hint != "" {
		if strings.EqualFold(hint, repo.ID) || strings.EqualFold(hint, repo.Repo) {
			return RuleHint
		}
	}
	if ev.Data.TeamKey != "" && containsFold(repo.TeamKeys, ev.Data.TeamKey) {
		return RuleTeamKey
	}
	for _, l := range ev.Data.Labels {
		if containsFold(repo.Labels, l) {
			return RuleLabel
		}
	}
	if ev.Data.ProjectName != "" && containsFold(repo.Projects, ev.Data.ProjectName) {
		return RuleProject
	}
	return RuleNone
}

// containsFold reports whether list contains s, case-insensitively.
func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
