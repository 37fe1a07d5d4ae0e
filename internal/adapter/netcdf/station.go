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

// StationFiles reads time series of a fixed station (buoy, platform, point of
// interest) from NetCDF files matching a glob pattern. The files carry only a
// time axis; every observation is placed at the station position.
type StationFiles struct {
	Pattern  string
	Platform string
	Lat, Lon float64
	TimeVar  string
	logger   *slog.Logger
}

// NewStationFiles creates a station source at (lat, lon).
func NewStationFiles(pattern, platform string, lat, lon float64, logger *slog.Logger) *StationFiles {
	return &StationFiles{
		Pattern:  pattern,
		Platform: platform,
		Lat:      lat,
		Lon:      lon,
		TimeVar:  "time",
		logger:   logger,
	}
}

// Observations returns the station values of variable with timestamps in
// [from, to]. Non-finite values are dropped.
func (s *StationFiles) Observations(ctx context.Context, variable string, from, to time.Time) (domain.ObservationSeries, error) {
	paths, err := filepath.Glob(s.Pattern)
	if err != nil {
		return domain.ObservationSeries{}, domain.Configurationf("station pattern %q: %v", s.Pattern, err)
	}
	sort.Strings(paths)

	series := domain.ObservationSeries{Platform: s.Platform, Variable: variable}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return series, err
		}
		part, err := s.readFile(path, variable, from, to)
		if err != nil {
			return series, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}
		if series, err = series.Merge(part); err != nil {
			return series, err
		}
	}

	s.logger.Debug("station observations read",
		"pattern", s.Pattern, "platform", s.Platform, "files", len(paths), "observations", series.Len())
	return series, nil
}

func (s *StationFiles) readFile(path, variable string, from, to time.Time) (domain.ObservationSeries, error) {
	nc, err := open(path)
	if err != nil {
		return domain.ObservationSeries{}, err
	}
	defer nc.Close()

	times, err := readTimes(nc, s.TimeVar)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	values, _, err := readVar(nc, variable)
	if err != nil {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(values) != len(times) {
		return domain.ObservationSeries{}, fmt.Errorf("%s: %d times but %d values of %s", path, len(times), len(values), variable)
	}

	var keptTimes []time.Time
	var keptValues []float64
	for i, t := range times {
		if t.Before(from) || t.After(to) || !finite(values[i]) {
			continue
		}
		keptTimes = append(keptTimes, t)
		keptValues = append(keptValues, values[i])
	}
	return domain.StationSeries(s.Platform, variable, s.Lat, s.Lon, keptTimes, keptValues)
}
