// Package catalog loads the read-only region and model tables that drive
// collocation. Region names are resolved into concrete [Region] variants and
// model entries are defaulted and validated once, at load time.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
)

// Catalog holds the resolved region and model tables.
type Catalog struct {
	regions map[string]Region
	models  map[string]*Model
}

type file struct {
	Regions struct {
		Rect map[string]rectSpec `yaml:"rect" validate:"dive"`
		Poly map[string]polySpec `yaml:"poly" validate:"dive"`
	} `yaml:"regions"`
	Models map[string]*Model `yaml:"models" validate:"dive"`
}

type rectSpec struct {
	LLCrnrLat   *float64 `yaml:"llcrnrlat" validate:"omitempty,gte=-90,lte=90"`
	URCrnrLat   *float64 `yaml:"urcrnrlat" validate:"omitempty,gte=-90,lte=90"`
	LLCrnrLon   *float64 `yaml:"llcrnrlon" validate:"omitempty,gte=-180,lte=360"`
	URCrnrLon   *float64 `yaml:"urcrnrlon" validate:"omitempty,gte=-180,lte=360"`
	BoundingLat *float64 `yaml:"boundinglat" validate:"omitempty,gte=-90,lte=90"`
}

type polySpec struct {
	Lons []float64 `yaml:"lons" validate:"min=3"`
	Lats []float64 `yaml:"lats" validate:"min=3"`
}

// Load reads and resolves a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse resolves a catalog from its YAML encoding.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.Configurationf("parse catalog: %v", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, domain.Configurationf("validate catalog: %v", err)
	}

	c := &Catalog{
		regions: make(map[string]Region),
		models:  make(map[string]*Model),
	}

	for name, m := range f.Models {
		if m == nil {
			return nil, domain.Configurationf("model %q has no settings", name)
		}
		m.Name = name
		m.applyDefaults()
		c.models[name] = m
	}

	// Later tables overwrite earlier ones: a rectangle beats a model grid,
	// which beats a polygon of the same name.
	for name, def := range f.Regions.Poly {
		if len(def.Lons) != len(def.Lats) {
			return nil, domain.Configurationf("polygon %q: %d lons but %d lats", name, len(def.Lons), len(def.Lats))
		}
		c.regions[name] = Polygon{Name: name, Lons: def.Lons, Lats: def.Lats}
	}
	for name := range f.Models {
		c.regions[name] = ModelGrid{Name: name, Model: name}
	}
	for name, def := range f.Regions.Rect {
		r, err := def.resolve(name)
		if err != nil {
			return nil, err
		}
		c.regions[name] = r
	}

	return c, nil
}

func (s rectSpec) resolve(name string) (Region, error) {
	if s.BoundingLat != nil {
		return PolarCap{Name: name, BoundingLat: *s.BoundingLat}, nil
	}
	if s.LLCrnrLat == nil || s.URCrnrLat == nil || s.LLCrnrLon == nil || s.URCrnrLon == nil {
		return nil, domain.Configurationf("rectangle %q needs boundinglat or all four corners", name)
	}
	if *s.LLCrnrLat > *s.URCrnrLat || *s.LLCrnrLon > *s.URCrnrLon {
		return nil, domain.Configurationf("rectangle %q: lower-left corner exceeds upper-right corner", name)
	}
	return Rectangle{
		Name:      name,
		LLCrnrLat: *s.LLCrnrLat,
		URCrnrLat: *s.URCrnrLat,
		LLCrnrLon: *s.LLCrnrLon,
		URCrnrLon: *s.URCrnrLon,
	}, nil
}

// Region returns the region registered under name. An empty name or "global"
// selects [Global].
func (c *Catalog) Region(name string) (Region, error) {
	if r, ok := c.regions[name]; ok {
		return r, nil
	}
	if IsGlobal(name) {
		return Global{}, nil
	}
	return nil, domain.Configurationf("region %q is not defined", name)
}

// Model returns the model registered under name.
func (c *Catalog) Model(name string) (*Model, error) {
	m, ok := c.models[name]
	if !ok {
		return nil, domain.Configurationf("model %q is not defined", name)
	}
	return m, nil
}

// Models returns the sorted names of all registered models.
func (c *Catalog) Models() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Regions returns the sorted names of all registered regions.
func (c *Catalog) Regions() []string {
	names := make([]string, 0, len(c.regions))
	for name := range c.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
