package domain

import (
	"fmt"
	"time"
)

// Observation is a single measurement from a satellite footprint or station.
type Observation struct {
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Value float64   `json:"value"`
}

// ObservationSeries is a time-ordered sequence of observations of one variable
// from one platform. It is read-only once built.
type ObservationSeries struct {
	Platform     string
	Variable     string
	Observations []Observation
}

// Len returns the number of observations in the series.
func (s ObservationSeries) Len() int { return len(s.Observations) }

// Times returns the observation timestamps in series order.
func (s ObservationSeries) Times() []time.Time {
	ts := make([]time.Time, len(s.Observations))
	for i, o := range s.Observations {
		ts[i] = o.Time
	}
	return ts
}

// Subset returns a new series holding the observations at idx, in idx order.
func (s ObservationSeries) Subset(idx []int) ObservationSeries {
	out := ObservationSeries{
		Platform:     s.Platform,
		Variable:     s.Variable,
		Observations: make([]Observation, len(idx)),
	}
	for i, j := range idx {
		out.Observations[i] = s.Observations[j]
	}
	return out
}

// Merge appends the observations of other to s. Both series must describe the
// same variable.
func (s ObservationSeries) Merge(other ObservationSeries) (ObservationSeries, error) {
	if s.Variable != "" && other.Variable != "" && s.Variable != other.Variable {
		return s, fmt.Errorf("merge series: variable %q does not match %q", other.Variable, s.Variable)
	}
	merged := ObservationSeries{
		Platform:     s.Platform,
		Variable:     s.Variable,
		Observations: make([]Observation, 0, len(s.Observations)+len(other.Observations)),
	}
	if merged.Platform == "" {
		merged.Platform = other.Platform
	}
	if merged.Variable == "" {
		merged.Variable = other.Variable
	}
	merged.Observations = append(merged.Observations, s.Observations...)
	merged.Observations = append(merged.Observations, other.Observations...)
	return merged, nil
}

// StationSeries builds a series for a fixed platform from parallel time and
// value slices. Every observation gets the station position.
func StationSeries(platform, variable string, lat, lon float64, times []time.Time, values []float64) (ObservationSeries, error) {
	if len(times) != len(values) {
		return ObservationSeries{}, fmt.Errorf("station series %s: %d times but %d values", platform, len(times), len(values))
	}
	s := ObservationSeries{
		Platform:     platform,
		Variable:     variable,
		Observations: make([]Observation, len(times)),
	}
	for i := range times {
		s.Observations[i] = Observation{Time: times[i], Lat: lat, Lon: lon, Value: values[i]}
	}
	return s, nil
}
