package netcdf

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
)

// ObservationFiles reads along-track observations from NetCDF files matching a
// glob pattern.
type ObservationFiles struct {
	Pattern  string
	Platform string
	LonVar   string
	LatVar   string
	TimeVar  string
	logger   *slog.Logger
}

// NewObservationFiles creates a source over the files matching pattern with
// conventional coordinate names.
func NewObservationFiles(pattern, platform string, logger *slog.Logger) *ObservationFiles {
	return &ObservationFiles{
		Pattern:  pattern,
		Platform: platform,
		LonVar:   "longitude",
		LatVar:   "latitude",
		TimeVar:  "time",
		logger:   logger,
	}
}

// Observations returns the observations of variable with timestamps in
// [from, to], ordered by file name and then by position in each file.
// Non-finite values are dropped.
func (o *ObservationFiles) Observations(ctx context.Context, variable string, from, to time.Time) (domain.ObservationSeries, error) {
	paths, err := filepath.Glob(o.Pattern)
	if err != nil {
		return domain.ObservationSeries{}, domain.Configurationf("observation pattern %q: %v", o.Pattern, err)
	}
	sort.Strings(paths)

	series := domain.ObservationSeries{Platform: o.Platform, Variable: variable}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return series, err
		}
		s, err := o.readFile(path, variable, from, to)
		if err != nil {
			return series, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}
		if series, err = series.Merge(s); err != nil {
			return series, err
		}
	}

	o.logger.Debug("observations read",
		"pattern", o.Pattern, "files", len(paths), "observations", series.Len(),
		"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))
	return series, nil
}

func (o *ObservationFiles) readFile(path, variable string, from, to time.Time) (domain.ObservationSeries, error) {
	nc, err := open(path)
	if err != nil {
		return domain.ObservationSeries{}, err
	}
	defer nc.Close()

	times, err := readTimes(nc, o.TimeVar)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	lats, _, err := readVar(nc, o.LatVar)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	lons, _, err := readVar(nc, o.LonVar)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	values, _, err := readVar(nc, variable)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(lats) != len(times) || len(lons) != len(times) || len(values) != len(times) {
		return domain.ObservationSeries{}, fmt.Errorf("%s: track lengths differ (time %d, lat %d, lon %d, %s %d)",
			path, len(times), len(lats), len(lons), variable, len(values))
	}

	s := domain.ObservationSeries{Platform: o.Platform, Variable: variable}
	for i, t := range times {
		if t.Before(from) || t.After(to) || !finite(values[i]) || !finite(lats[i]) || !finite(lons[i]) {
			continue
		}
		s.Observations = append(s.Observations, domain.Observation{Time: t, Lat: lats[i], Lon: lons[i], Value: values[i]})
	}
	return s, nil
}
