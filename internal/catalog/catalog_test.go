package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
)

const testCatalog = `
regions:
  rect:
    NorwegianSea:
      llcrnrlat: 60
      urcrnrlat: 75
      llcrnrlon: -10
      urcrnrlon: 15
    Arctic:
      boundinglat: 66
  poly:
    NordicSeas:
      lons: [-10, 20, 20, -10]
      lats: [55, 55, 80, 80]
models:
  mwam4:
    path_template: '/lustre/mwam4/{{.Init | date "20060102"}}/MyWave_wam4_WAVE_{{.Init | date "20060102T15"}}Z.nc'
    init_times: [0, 6, 12, 18]
    init_step: 6
    max_lead_time: 66
    grid_date: 2020-01-01T00:00:00Z
    proj4: "+proj=ob_tran +o_proj=longlat +lon_0=-40 +o_lat_p=22 +R=6.371e+06 +no_defs"
    coords:
      lons: longitude
      lats: latitude
      time: time
    vars:
      Hs:
        name: hs
      U10:
        components: [ff_u, ff_v]
  ecwam:
    path_template: '/lustre/ecwam/{{.Init | date "2006010215"}}.nc'
    init_times: [0, 12]
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	assert.Equal(t, []string{"ecwam", "mwam4"}, c.Models())
	assert.Equal(t, []string{"Arctic", "NordicSeas", "NorwegianSea", "ecwam", "mwam4"}, c.Regions())
}

func TestCatalog_Region(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	tests := []struct {
		name string
		want Region
	}{
		{"NorwegianSea", Rectangle{Name: "NorwegianSea", LLCrnrLat: 60, URCrnrLat: 75, LLCrnrLon: -10, URCrnrLon: 15}},
		{"Arctic", PolarCap{Name: "Arctic", BoundingLat: 66}},
		{"NordicSeas", Polygon{Name: "NordicSeas", Lons: []float64{-10, 20, 20, -10}, Lats: []float64{55, 55, 80, 80}}},
		{"mwam4", ModelGrid{Name: "mwam4", Model: "mwam4"}},
		{"", Global{}},
		{"global", Global{}},
		{"Global", Global{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Region(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalog_RegionPrecedence(t *testing.T) {
	c, err := Parse([]byte(`
regions:
  rect:
    Shared: {llcrnrlat: 60, urcrnrlat: 70, llcrnrlon: 0, urcrnrlon: 10}
  poly:
    Shared: {lons: [0, 1, 1], lats: [60, 60, 61]}
    mwam4: {lons: [0, 1, 1], lats: [60, 60, 61]}
models:
  mwam4:
    path_template: '/data/mwam4.nc'
`))
	require.NoError(t, err)

	got, err := c.Region("mwam4")
	require.NoError(t, err)
	assert.Equal(t, ModelGrid{Name: "mwam4", Model: "mwam4"}, got, "model grid wins over a polygon")

	got, err = c.Region("Shared")
	require.NoError(t, err)
	assert.IsType(t, Rectangle{}, got, "rectangle wins over a polygon")
}

func TestCatalog_UnknownNames(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	_, err = c.Region("Atlantis")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = c.Model("ww3")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCatalog_ModelDefaults(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	m, err := c.Model("mwam4")
	require.NoError(t, err)
	assert.Equal(t, "mwam4", m.Name)
	assert.Equal(t, 6, m.InitStep)
	assert.Equal(t, 66, m.MaxLeadTime)
	require.NotNil(t, m.GridDate)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), m.GridDate.UTC())
	assert.Equal(t, Variable{Name: "hs"}, m.FileVariable("Hs"))
	assert.Equal(t, Variable{Components: []string{"ff_u", "ff_v"}}, m.FileVariable("U10"))
	assert.Equal(t, Variable{Name: "Tp"}, m.FileVariable("Tp"))

	ec, err := c.Model("ecwam")
	require.NoError(t, err)
	assert.Equal(t, 12, ec.InitStep, "step derived from init times")
	assert.Equal(t, Coords{Lons: "longitude", Lats: "latitude", Time: "time"}, ec.Coords)
}

func TestParse_HourlyModelWithoutInitTimes(t *testing.T) {
	c, err := Parse([]byte(`
models:
  nora3:
    path_template: '/nora3/{{.Valid | date "2006010215"}}.nc'
`))
	require.NoError(t, err)

	m, err := c.Model("nora3")
	require.NoError(t, err)
	assert.Len(t, m.InitTimes, 24)
	assert.Equal(t, 1, m.InitStep)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "regions: ["},
		{"rectangle missing corners", "regions:\n  rect:\n    Box:\n      llcrnrlat: 10\n"},
		{"rectangle inverted", "regions:\n  rect:\n    Box: {llcrnrlat: 10, urcrnrlat: 0, llcrnrlon: 0, urcrnrlon: 1}\n"},
		{"latitude out of range", "regions:\n  rect:\n    Cap: {boundinglat: 95}\n"},
		{"polygon too small", "regions:\n  poly:\n    Tri: {lons: [0, 1], lats: [0, 1]}\n"},
		{"polygon length mismatch", "regions:\n  poly:\n    Tri: {lons: [0, 1, 2], lats: [0, 1, 2, 3]}\n"},
		{"model without template", "models:\n  mwam4:\n    init_times: [0]\n"},
		{"init hour out of range", "models:\n  mwam4:\n    path_template: x\n    init_times: [24]\n"},
		{"single component", "models:\n  mwam4:\n    path_template: x\n    vars:\n      U10: {components: [u]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Models(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
