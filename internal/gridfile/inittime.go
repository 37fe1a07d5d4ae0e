package gridfile

import (
	"time"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
)

// InitTime returns the most recent permissible model initialization at or
// before instant minus lead hours. Models without init times are treated as
// hourly.
func InitTime(model *catalog.Model, instant time.Time, lead int) time.Time {
	t := instant.UTC().Add(-time.Duration(lead) * time.Hour).Truncate(time.Hour)
	if len(model.InitTimes) == 0 {
		return t
	}
	for i := 0; i < 24; i++ {
		if isInitHour(model.InitTimes, t.Hour()) {
			return t
		}
		t = t.Add(-time.Hour)
	}
	// Unreachable with validated init hours.
	return t
}

// BestGuessLead returns the whole hours between instant and the most recent
// initialization at or before it.
func BestGuessLead(model *catalog.Model, instant time.Time) int {
	instant = instant.UTC()
	return int(instant.Sub(InitTime(model, instant, 0)) / time.Hour)
}

func isInitHour(initTimes []int, h int) bool {
	for _, it := range initTimes {
		if it == h {
			return true
		}
	}
	return false
}
