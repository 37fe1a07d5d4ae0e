// Package region turns catalog regions into point masks over model grids and
// observation tracks.
package region

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// InclusionRadius tolerates floating-point error for points on a polygon edge.
const InclusionRadius = 1e-9

// Mask classifies geographic points as inside or outside a region.
type Mask interface {
	// Contains reports whether (lat, lon) lies inside the region.
	Contains(lat, lon float64) bool
	// Select returns the indices of the points inside the region, in order.
	Select(lats, lons []float64) []int
}

func selectWith(contains func(lat, lon float64) bool, lats, lons []float64) []int {
	idx := make([]int, 0)
	for i := range lats {
		if contains(lats[i], lons[i]) {
			idx = append(idx, i)
		}
	}
	return idx
}

// All accepts every point.
type All struct{}

func (All) Contains(_, _ float64) bool { return true }

func (All) Select(lats, _ []float64) []int {
	idx := make([]int, len(lats))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Box accepts points within inclusive latitude and longitude bounds.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func (b Box) Select(lats, lons []float64) []int { return selectWith(b.Contains, lats, lons) }

// Cap accepts points at or poleward of MinLat.
type Cap struct {
	MinLat float64
}

func (c Cap) Contains(lat, _ float64) bool { return lat >= c.MinLat }

func (c Cap) Select(lats, lons []float64) []int { return selectWith(c.Contains, lats, lons) }

// Ring accepts points inside a closed polygon ring, or within InclusionRadius
// of its boundary. When Transform is set, points are projected before the test
// and the ring is expected in projected coordinates.
type Ring struct {
	ring      []geom.Point
	poly      geom.Polygon
	transform proj.Transformer
}

// NewRing builds a ring mask from (x, y) vertices. The ring is closed if the
// last vertex does not repeat the first.
func NewRing(xs, ys []float64, transform proj.Transformer) *Ring {
	ring := make([]geom.Point, 0, len(xs)+1)
	for i := range xs {
		ring = append(ring, geom.Point{X: xs[i], Y: ys[i]})
	}
	if n := len(ring); n > 0 && ring[0] != ring[n-1] {
		ring = append(ring, ring[0])
	}
	return &Ring{
		ring:      ring,
		poly:      geom.Polygon{ring},
		transform: transform,
	}
}

func (r *Ring) Contains(lat, lon float64) bool {
	x, y := lon, lat
	if r.transform != nil {
		var err error
		x, y, err = r.transform(lon, lat)
		if err != nil {
			return false
		}
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	p := geom.Point{X: x, Y: y}
	if p.Within(r.poly) != geom.Outside {
		return true
	}
	return distanceToRing(p, r.ring) <= InclusionRadius
}

func (r *Ring) Select(lats, lons []float64) []int { return selectWith(r.Contains, lats, lons) }

// distanceToRing returns the planar distance from p to the nearest edge.
func distanceToRing(p geom.Point, ring []geom.Point) float64 {
	best := math.Inf(1)
	for i := 0; i+1 < len(ring); i++ {
		if d := distanceToSegment(p, ring[i], ring[i+1]); d < best {
			best = d
		}
	}
	return best
}

func distanceToSegment(p, a, b geom.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
