package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
)

// gridSearchMaxLead bounds the lead-time search for a model's outline when the
// model sets no maximum of its own.
const gridSearchMaxLead = 48

// FileResolver locates model files.
type FileResolver interface {
	Resolve(ctx context.Context, model *catalog.Model, instant time.Time, lead gridfile.LeadTime, opts ...gridfile.ResolveOption) (gridfile.Resolution, error)
}

// AxesSource loads grid axes, typically through the grid cache.
type AxesSource interface {
	GetOrLoad(ctx context.Context, key gridcache.Key) (*domain.GridAxes, error)
}

// Masker resolves catalog regions into masks.
type Masker struct {
	catalog  *catalog.Catalog
	resolver FileResolver
	axes     AxesSource
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewMasker creates a Masker. The resolver and axes source are only used for
// regions derived from a model grid.
func NewMasker(cat *catalog.Catalog, resolver FileResolver, axes AxesSource, clock clockwork.Clock, logger *slog.Logger) *Masker {
	return &Masker{
		catalog:  cat,
		resolver: resolver,
		axes:     axes,
		clock:    clock,
		logger:   logger,
	}
}

// ResolveName looks name up in the catalog and resolves it.
func (m *Masker) ResolveName(ctx context.Context, name string, refDate time.Time) (Mask, error) {
	r, err := m.catalog.Region(name)
	if err != nil {
		return nil, domain.NewStepError(domain.StepRegion, err)
	}
	return m.Resolve(ctx, r, refDate)
}

// Resolve builds the mask of r. refDate selects the model file whose grid
// outline defines a ModelGrid region.
func (m *Masker) Resolve(ctx context.Context, r catalog.Region, refDate time.Time) (Mask, error) {
	switch r := r.(type) {
	case nil, catalog.Global:
		return All{}, nil
	case catalog.Rectangle:
		return Box{MinLat: r.LLCrnrLat, MaxLat: r.URCrnrLat, MinLon: r.LLCrnrLon, MaxLon: r.URCrnrLon}, nil
	case catalog.PolarCap:
		return Cap{MinLat: r.BoundingLat}, nil
	case catalog.Polygon:
		return NewRing(r.Lons, r.Lats, nil), nil
	case catalog.ModelGrid:
		mask, err := m.modelGrid(ctx, r, refDate)
		if err != nil {
			return nil, domain.NewStepError(domain.StepRegion, err)
		}
		return mask, nil
	default:
		return nil, domain.NewStepError(domain.StepRegion, domain.Configurationf("unsupported region type %T", r))
	}
}

func (m *Masker) modelGrid(ctx context.Context, r catalog.ModelGrid, refDate time.Time) (Mask, error) {
	model, err := m.catalog.Model(r.Model)
	if err != nil {
		return nil, err
	}

	res, err := m.locateGrid(ctx, model, refDate)
	if err != nil {
		return nil, err
	}
	axes, err := m.axes.GetOrLoad(ctx, gridcache.Key{
		Path:    res.Path,
		LonVar:  model.Coords.Lons,
		LatVar:  model.Coords.Lats,
		TimeVar: model.Coords.Time,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}

	lats, lons := axes.Points()
	xs, ys := Outline(lons, lats, axes.NY, axes.NX)
	if len(xs) < 3 {
		return nil, domain.Unavailablef("grid of %s in %s has no outline", model.Name, res.Path)
	}

	def := axes.Projection
	if def == "" {
		def = model.Proj4
	}
	if def == "" {
		m.logger.Debug("model grid has no projection, testing outline in lon/lat", "model", model.Name)
		return NewRing(xs, ys, nil), nil
	}

	transform, err := projection(def)
	if err != nil {
		return nil, domain.Configurationf("projection of %s: %v", model.Name, err)
	}
	for i := range xs {
		xs[i], ys[i], err = transform(xs[i], ys[i])
		if err != nil {
			return nil, domain.Configurationf("project outline of %s: %v", model.Name, err)
		}
	}
	return NewRing(xs, ys, transform), nil
}

// locateGrid finds a file carrying the model grid, trying refDate, then the
// model's configured grid date, then today.
func (m *Masker) locateGrid(ctx context.Context, model *catalog.Model, refDate time.Time) (gridfile.Resolution, error) {
	maxLead := model.MaxLeadTime
	if maxLead <= 0 {
		maxLead = gridSearchMaxLead
	}

	dates := make([]time.Time, 0, 3)
	if !refDate.IsZero() {
		dates = append(dates, refDate)
	}
	if model.GridDate != nil {
		dates = append(dates, *model.GridDate)
	}
	dates = append(dates, m.clock.Now().UTC().Truncate(time.Hour))

	var lastErr error
	for _, d := range dates {
		res, err := m.resolver.Resolve(ctx, model, d, gridfile.Best(), gridfile.WithMaxLeadTime(maxLead))
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrDataUnavailable) {
			return gridfile.Resolution{}, err
		}
		m.logger.Info("model grid not available, trying fallback date",
			"model", model.Name, "date", d.Format(time.RFC3339), "error", err)
		lastErr = err
	}
	return gridfile.Resolution{}, lastErr
}

// Outline walks the border of a row-major ny×nx grid counter-clockwise in
// index space and returns its (lon, lat) vertices. For a 1-D grid it returns
// nothing.
func Outline(lons, lats []float64, ny, nx int) (xs, ys []float64) {
	if ny < 2 || nx < 2 || len(lons) != ny*nx || len(lats) != ny*nx {
		return nil, nil
	}
	n := 2*(nx+ny) - 4
	xs = make([]float64, 0, n)
	ys = make([]float64, 0, n)
	add := func(j, i int) {
		k := j*nx + i
		xs = append(xs, lons[k])
		ys = append(ys, lats[k])
	}
	for i := 0; i < nx; i++ {
		add(0, i)
	}
	for j := 1; j < ny; j++ {
		add(j, nx-1)
	}
	for i := nx - 2; i >= 0; i-- {
		add(ny-1, i)
	}
	for j := ny - 2; j > 0; j-- {
		add(j, 0)
	}
	return xs, ys
}
