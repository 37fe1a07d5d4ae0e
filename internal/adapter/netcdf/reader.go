// Package netcdf reads model grids and observation tracks from NetCDF files.
package netcdf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
)

// projectionAttrs are the attribute names searched for a proj4 definition.
var projectionAttrs = []string{"proj4", "proj4_string"}

// Reader loads grid axes and fields from model files.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a grid reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger}
}

// LoadAxes reads the coordinate and time axes named in key.
func (r *Reader) LoadAxes(_ context.Context, key gridcache.Key) (*domain.GridAxes, error) {
	nc, err := open(key.Path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	lons, lonShape, err := readVar(nc, key.LonVar)
	if err != nil {
		return nil, err
	}
	lats, latShape, err := readVar(nc, key.LatVar)
	if err != nil {
		return nil, err
	}
	times, err := readTimes(nc, key.TimeVar)
	if err != nil {
		return nil, err
	}

	axes := &domain.GridAxes{
		Path:       key.Path,
		Lons:       lons,
		Lats:       lats,
		Times:      times,
		Projection: findProjection(nc),
	}
	switch {
	case len(lonShape) == 1 && len(latShape) == 1:
		axes.NY, axes.NX = len(lats), len(lons)
	case len(lonShape) == 2 && slices.Equal(lonShape, latShape):
		axes.NY, axes.NX = lonShape[0], lonShape[1]
		axes.Curvilinear = true
	default:
		return nil, fmt.Errorf("%s: unsupported coordinate shapes %s%v, %s%v", key.Path, key.LonVar, lonShape, key.LatVar, latShape)
	}

	r.logger.Debug("grid axes loaded",
		"path", key.Path, "ny", axes.NY, "nx", axes.NX, "times", len(times), "curvilinear", axes.Curvilinear)
	return axes, nil
}

// ReadField reads variable v at time t from the file described by axes.
// Component variables are combined as the root of the sum of squares.
func (r *Reader) ReadField(_ context.Context, axes *domain.GridAxes, timeVar string, v catalog.Variable, t time.Time) (*domain.GridSnapshot, error) {
	idx, ok := axes.TimeIndex(t)
	if !ok {
		return nil, domain.NewStepError(domain.StepTimestamp,
			domain.Unavailablef("%s has no time step at %s", axes.Path, t.UTC().Format(time.RFC3339)))
	}

	nc, err := open(axes.Path)
	if err != nil {
		return nil, domain.NewStepError(domain.StepGridRead, err)
	}
	defer nc.Close()

	names := v.Components
	label := strings.Join(names, "+")
	if len(names) == 0 {
		names = []string{v.Name}
		label = v.Name
	}

	var values []float64
	for _, name := range names {
		comp, err := readStep(nc, name, timeVar, idx, axes.Len())
		if err != nil {
			return nil, domain.NewStepError(domain.StepGridRead, fmt.Errorf("%s: %w", axes.Path, err))
		}
		if len(names) == 1 {
			values = comp
			break
		}
		if values == nil {
			values = make([]float64, len(comp))
		}
		for i, c := range comp {
			values[i] += c * c
		}
	}
	if len(names) > 1 {
		for i := range values {
			values[i] = math.Sqrt(values[i])
		}
	}

	snap, err := domain.NewGridSnapshot(axes, label, idx, values)
	if err != nil {
		return nil, domain.NewStepError(domain.StepGridRead, err)
	}
	return snap, nil
}

// readStep reads one time step of name, or the whole variable when it has no
// time dimension, and keeps the first n values (the first vertical level).
func readStep(nc api.Group, name, timeVar string, idx, n int) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}

	var raw any
	if dims := vg.Dimensions(); len(dims) > 0 && dims[0] == timeVar {
		raw, err = vg.GetSlice(int64(idx), int64(idx)+1)
	} else {
		raw, err = vg.Values()
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	vals, _, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(vals) < n {
		return nil, fmt.Errorf("variable %s: %d values for %d grid cells", name, len(vals), n)
	}
	return PackingOf(vg.Attributes()).Unpack(vals[:n]), nil
}

func open(path string) (api.Group, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return nc, nil
}

func readVar(nc api.Group, name string) ([]float64, []int, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, nil, fmt.Errorf("variable %s: %w", name, err)
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", name, err)
	}
	vals, shape, err := flatten(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return PackingOf(vg.Attributes()).Unpack(vals), shape, nil
}

func readTimes(nc api.Group, name string) ([]time.Time, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	units, ok := attrString(vg.Attributes(), "units")
	if !ok {
		return nil, fmt.Errorf("variable %s has no units", name)
	}
	tu, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	offsets, _, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return tu.Decode(offsets), nil
}

// findProjection looks for a proj4 definition in the global attributes, then
// in the attributes of any variable (grid-mapping variables carry it there).
func findProjection(nc api.Group) string {
	for _, key := range projectionAttrs {
		if s, ok := attrString(nc.Attributes(), key); ok && s != "" {
			return s
		}
	}
	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		for _, key := range projectionAttrs {
			if s, ok := attrString(vg.Attributes(), key); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
