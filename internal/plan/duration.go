package plan

import (
	"fmt"
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration converts an ISO-8601 duration such as PT24H or P2DT3H.
// Negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	if d.Negative {
		return 0, fmt.Errorf("negative duration %q not allowed", s)
	}
	return d.ToTimeDuration(), nil
}
