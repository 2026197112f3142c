// Package notify delivers operator alerts (unroutable events, session
// errors) to a configured chat channel. Alert delivery is best-effort
// bookkeeping: failures are logged and never abort the orchestrator's
// main path.
package notify

import "context"

// Severity classifies an alert for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is one operator notification.
type Alert struct {
	Title    string
	Body     string
	Severity Severity
}

// Notifier posts alerts to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Nop is a Notifier that discards all alerts. Used when no operator
// channel is configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }

// severityColor maps a severity to a sidebar color hint.
func severityColor(s Severity) string {
	switch s {
	case SeverityError:
		return "#d62828"
	case SeverityWarning:
		return "#e9c46a"
	default:
		return "#457b9d"
	}
}
