package ttl

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error. Used for long-horizon
// retention passes (completed-session GC) that run on a schedule rather than
// the fast sweep interval.
func NextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// ValidCron reports whether expr parses as a 5-field cron expression.
func ValidCron(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}
