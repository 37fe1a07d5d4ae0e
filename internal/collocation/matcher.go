package collocation

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
)

const (
	// DefaultMovingWindow is the longitude half-width, in degrees, used when
	// the moving window cannot be derived.
	DefaultMovingWindow = 0.6

	// LatWindow is the latitude half-width, in degrees, of the candidate box.
	LatWindow = 0.1

	// boxPad widens rtree queries so points on the box edge are never lost;
	// the exact inclusive box test is applied afterwards.
	boxPad = 1e-9
)

// NoMatchReason explains why an observation was not paired.
type NoMatchReason string

const (
	ReasonNoCandidates    NoMatchReason = "no_candidates"
	ReasonOutOfRange      NoMatchReason = "out_of_range"
	ReasonInvalidValue    NoMatchReason = "invalid_value"
	ReasonInvalidDistance NoMatchReason = "invalid_distance"
)

// Neighbour is the grid cell nearest to an observation.
type Neighbour struct {
	// Index is the cell's position in the grid passed to NewMatcher.
	Index      int
	Lat        float64
	Lon        float64
	Value      float64
	DistanceKm float64
}

// Result is the outcome of matching one observation: a Neighbour, or a
// NoMatch reason.
type Result struct {
	Neighbour Neighbour
	Reason    NoMatchReason
}

// OK reports whether the observation was matched.
func (r Result) OK() bool { return r.Reason == "" }

func noMatch(reason NoMatchReason) Result { return Result{Reason: reason} }

// MovingWindow returns the longitude half-width, in degrees, that spans
// distLimitKm at the highest absolute latitude in lats, rounded to two
// decimals. It falls back to DefaultMovingWindow when that is undefined and
// when the width rounds to 0.00.
func MovingWindow(distLimitKm float64, lats []float64) float64 {
	maxAbs := math.NaN()
	for _, lat := range lats {
		if a := math.Abs(lat); !math.IsNaN(a) && (math.IsNaN(maxAbs) || a > maxAbs) {
			maxAbs = a
		}
	}
	if math.IsNaN(maxAbs) {
		return DefaultMovingWindow
	}
	degKm := domain.Haversine(0, maxAbs, 1, maxAbs)
	if degKm == 0 || math.IsNaN(degKm) {
		return DefaultMovingWindow
	}
	w := math.Round(distLimitKm/degKm*100) / 100
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return DefaultMovingWindow
	}
	return w
}

type gridPoint struct {
	geom.Point
	idx int
}

// Matcher finds the nearest valid grid cell to an observation. It indexes the
// grid once and is safe for concurrent use.
type Matcher struct {
	lats, lons, values []float64
	limitKm            float64
	window             float64
	tree               *rtree.Rtree
}

// NewMatcher indexes a grid given as parallel lat/lon/value slices. Points
// with non-finite coordinates are never candidates.
func NewMatcher(lats, lons, values []float64, limitKm, windowDeg float64) *Matcher {
	tree := rtree.NewTree(25, 50)
	for i := range lats {
		if !finite(lats[i]) || !finite(lons[i]) {
			continue
		}
		tree.Insert(gridPoint{Point: geom.Point{X: lons[i], Y: lats[i]}, idx: i})
	}
	return &Matcher{
		lats:    lats,
		lons:    lons,
		values:  values,
		limitKm: limitKm,
		window:  windowDeg,
		tree:    tree,
	}
}

// Window returns the longitude half-width of the candidate box.
func (m *Matcher) Window() float64 { return m.window }

// Nearest returns the grid cell closest to (lat, lon). Candidates are the cells
// within ±LatWindow latitude and ±Window longitude, inclusive. The nearest
// candidate is accepted if it lies within the distance limit and its value is
// non-negative. Distance ties go to the cell that comes first in the grid.
func (m *Matcher) Nearest(lat, lon float64) Result {
	cand := m.candidates(lat, lon)
	if len(cand) == 0 {
		return noMatch(ReasonNoCandidates)
	}

	dist := make([]float64, len(cand))
	for k, i := range cand {
		dist[k] = domain.Haversine(lon, lat, m.lons[i], m.lats[i])
	}
	k := floats.MinIdx(dist)
	d := dist[k]
	if math.IsNaN(d) {
		return noMatch(ReasonInvalidDistance)
	}
	if d > m.limitKm {
		return noMatch(ReasonOutOfRange)
	}
	i := cand[k]
	v := m.values[i]
	if math.IsNaN(v) || v < 0 {
		return noMatch(ReasonInvalidValue)
	}
	return Result{Neighbour: Neighbour{
		Index:      i,
		Lat:        m.lats[i],
		Lon:        m.lons[i],
		Value:      v,
		DistanceKm: d,
	}}
}

// candidates returns the indices inside the inclusive box, in grid order.
func (m *Matcher) candidates(lat, lon float64) []int {
	if !finite(lat) || !finite(lon) {
		return nil
	}
	minLat, maxLat := lat-LatWindow, lat+LatWindow
	minLon, maxLon := lon-m.window, lon+m.window

	hits := m.tree.SearchIntersect(&geom.Bounds{
		Min: geom.Point{X: minLon - boxPad, Y: minLat - boxPad},
		Max: geom.Point{X: maxLon + boxPad, Y: maxLat + boxPad},
	})
	idx := make([]int, 0, len(hits))
	for _, h := range hits {
		p := h.(gridPoint)
		if p.Y >= minLat && p.Y <= maxLat && p.X >= minLon && p.X <= maxLon {
			idx = append(idx, p.idx)
		}
	}
	sort.Ints(idx)
	return idx
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
