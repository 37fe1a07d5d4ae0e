package pipeline

import (
	"time"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
)

// ValidDates returns start, start+step, ... up to and including end.
func ValidDates(start, end time.Time, step time.Duration) ([]time.Time, error) {
	if step <= 0 {
		return nil, domain.Configurationf("date increment must be positive, got %s", step)
	}
	if end.Before(start) {
		return nil, domain.Configurationf("end date %s is before start date %s",
			end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339))
	}
	n := int(end.Sub(start)/step) + 1
	dates := make([]time.Time, 0, n)
	for d := start.UTC(); !d.After(end); d = d.Add(step) {
		dates = append(dates, d)
	}
	return dates, nil
}

// LatestValidDate returns the most recent step-aligned date whose observation
// window [d-window, d+window] lies entirely before now.
func LatestValidDate(now time.Time, step, window time.Duration) time.Time {
	if step <= 0 {
		step = time.Hour
	}
	return now.UTC().Add(-window).Truncate(step)
}

