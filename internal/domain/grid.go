package domain

import (
	"fmt"
	"time"
)

// GridAxes holds the parsed coordinate and time axes of one model file.
//
// Regular grids carry 1-D axes (len(Lons) == NX, len(Lats) == NY). Curvilinear
// grids carry 2-D coordinates flattened row-major (len(Lons) == len(Lats) == NY*NX).
type GridAxes struct {
	Path        string
	Lons        []float64
	Lats        []float64
	NY, NX      int
	Curvilinear bool
	Times       []time.Time
	// Projection is the proj4 definition stored in the file, if any.
	Projection string
}

// Points returns the flattened 2-D latitude and longitude of every grid cell in
// row-major order, expanding 1-D axes with Meshgrid.
func (a *GridAxes) Points() (lats, lons []float64) {
	if a.Curvilinear {
		return a.Lats, a.Lons
	}
	return Meshgrid(a.Lons, a.Lats)
}

// Len returns the number of grid cells.
func (a *GridAxes) Len() int { return a.NY * a.NX }

// TimeIndex returns the index of the time step exactly equal to t.
func (a *GridAxes) TimeIndex(t time.Time) (int, bool) {
	return TimeIndex(a.Times, t)
}

// TimeIndex returns the index of the first element of times exactly equal to t.
func TimeIndex(times []time.Time, t time.Time) (int, bool) {
	for i, ts := range times {
		if ts.Equal(t) {
			return i, true
		}
	}
	return -1, false
}

// Meshgrid expands 1-D longitude and latitude axes into flattened 2-D arrays of
// shape (len(lats), len(lons)), row-major, with longitude varying fastest.
func Meshgrid(lons, lats []float64) (lat2d, lon2d []float64) {
	n := len(lats) * len(lons)
	lat2d = make([]float64, n)
	lon2d = make([]float64, n)
	k := 0
	for _, la := range lats {
		for _, lo := range lons {
			lat2d[k] = la
			lon2d[k] = lo
			k++
		}
	}
	return lat2d, lon2d
}

// GridSnapshot is one model variable valid at a single timestamp, flattened to
// parallel lat/lon/value slices.
type GridSnapshot struct {
	Path     string
	Variable string
	Time     time.Time
	Lats     []float64
	Lons     []float64
	Values   []float64
}

// NewGridSnapshot pairs the grid points of axes with values read for time step
// timeIdx.
func NewGridSnapshot(axes *GridAxes, variable string, timeIdx int, values []float64) (*GridSnapshot, error) {
	if timeIdx < 0 || timeIdx >= len(axes.Times) {
		return nil, fmt.Errorf("grid snapshot %s: time index %d out of range [0,%d)", axes.Path, timeIdx, len(axes.Times))
	}
	if len(values) != axes.Len() {
		return nil, fmt.Errorf("grid snapshot %s: %d values for %d cells", axes.Path, len(values), axes.Len())
	}
	lats, lons := axes.Points()
	return &GridSnapshot{
		Path:     axes.Path,
		Variable: variable,
		Time:     axes.Times[timeIdx],
		Lats:     lats,
		Lons:     lons,
		Values:   values,
	}, nil
}

// Len returns the number of grid cells in the snapshot.
func (s *GridSnapshot) Len() int { return len(s.Values) }
