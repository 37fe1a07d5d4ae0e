package catalog

import "strings"

// Region is a closed set of region shapes. Names are resolved to a concrete
// variant once, when the catalog is loaded.
type Region interface {
	RegionName() string
	isRegion()
}

// Global accepts every point.
type Global struct{}

// Rectangle bounds points by corner latitudes and longitudes, inclusive.
type Rectangle struct {
	Name                 string
	LLCrnrLat, URCrnrLat float64
	LLCrnrLon, URCrnrLon float64
}

// PolarCap accepts points at or north of BoundingLat.
type PolarCap struct {
	Name        string
	BoundingLat float64
}

// Polygon is a closed ring of (lon, lat) vertices. The ring is implicitly
// closed; the last vertex need not repeat the first.
type Polygon struct {
	Name string
	Lons []float64
	Lats []float64
}

// ModelGrid derives the region from the outline of a model's grid.
type ModelGrid struct {
	Name  string
	Model string
}

func (Global) RegionName() string      { return GlobalRegion }
func (r Rectangle) RegionName() string { return r.Name }
func (r PolarCap) RegionName() string  { return r.Name }
func (r Polygon) RegionName() string   { return r.Name }
func (r ModelGrid) RegionName() string { return r.Name }

func (Global) isRegion()    {}
func (Rectangle) isRegion() {}
func (PolarCap) isRegion()  {}
func (Polygon) isRegion()   {}
func (ModelGrid) isRegion() {}

// GlobalRegion is the name of the region that accepts everything.
const GlobalRegion = "global"

// IsGlobal reports whether name selects the global region.
func IsGlobal(name string) bool {
	return name == "" || strings.EqualFold(name, GlobalRegion)
}
