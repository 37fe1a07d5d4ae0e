// Package collocation pairs observations with the nearest valid cell of a
// model grid at a single valid time.
package collocation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
)

// DefaultDistanceLimitKm applies when a request sets no distance limit.
const DefaultDistanceLimitKm = 6.0

// minChunk is the smallest number of observations handed to one worker.
const minChunk = 256

// RegionResolver turns a catalog region into a mask.
type RegionResolver interface {
	Resolve(ctx context.Context, r catalog.Region, refDate time.Time) (region.Mask, error)
}

// Request describes one collocation call.
type Request struct {
	Model    string
	Variable string

	// Grid holds the model field. Its Time must equal Target.
	Grid *domain.GridSnapshot
	// GridTimes is the full time axis of the model file.
	GridTimes []time.Time

	Observations domain.ObservationSeries
	Target       time.Time
	// TimeWindow is the half-width around Target for selecting observations.
	TimeWindow time.Duration

	Region          catalog.Region
	DistanceLimitKm float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of goroutines matching observations.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithUnmaskedRegions lists region names for which the grid is never masked.
func WithUnmaskedRegions(names ...string) Option {
	return func(e *Engine) {
		e.unmasked = make(map[string]bool, len(names))
		for _, n := range names {
			e.unmasked[strings.ToLower(n)] = true
		}
	}
}

// Engine orchestrates region masking, time windowing and nearest-neighbour
// matching.
type Engine struct {
	regions  RegionResolver
	logger   *slog.Logger
	metrics  *observability.Metrics
	workers  int
	unmasked map[string]bool
}

// NewEngine creates an Engine. By default the "ecwam" region is unmasked and
// matching uses one worker per CPU.
func NewEngine(regions RegionResolver, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Engine {
	e := &Engine{
		regions:  regions,
		logger:   logger,
		metrics:  metrics,
		workers:  runtime.NumCPU(),
		unmasked: map[string]bool{"ecwam": true},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collocate matches the observations inside the time window around
// req.Target against the model grid valid at req.Target. Observations without
// a valid neighbour are dropped. Records keep observation order.
func (e *Engine) Collocate(ctx context.Context, req Request) (*domain.Collocation, error) {
	start := time.Now()
	defer func() { e.metrics.CollocationDuration.Observe(time.Since(start).Seconds()) }()

	if req.Grid == nil {
		return nil, domain.NewStepError(domain.StepGridRead, domain.Unavailablef("no grid for %s", req.Model))
	}
	if _, ok := domain.TimeIndex(req.GridTimes, req.Target); !ok {
		return nil, domain.NewStepError(domain.StepTimestamp,
			domain.Unavailablef("%s has no time step at %s", req.Grid.Path, req.Target.UTC().Format(time.RFC3339)))
	}
	if !req.Grid.Time.Equal(req.Target) {
		return nil, domain.NewStepError(domain.StepTimestamp,
			fmt.Errorf("grid field is valid at %s, not %s", req.Grid.Time.UTC().Format(time.RFC3339), req.Target.UTC().Format(time.RFC3339)))
	}

	out := &domain.Collocation{
		Model:     req.Model,
		Platform:  req.Observations.Platform,
		Variable:  req.Variable,
		ValidTime: req.Target,
		Records:   []domain.MatchRecord{},
	}

	obs := req.Observations.Subset(MatchTimes(req.Observations.Times(), req.Target, time.Time{}, req.TimeWindow))
	e.metrics.ObservationsConsidered.Add(float64(obs.Len()))
	if obs.Len() == 0 {
		e.logger.Debug("no observations in time window", "model", req.Model, "valid_time", req.Target)
		return out, nil
	}

	lats, lons, values, err := e.restrict(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(lats) == 0 {
		e.logger.Info("region masks out the whole grid",
			"model", req.Model, "region", regionName(req.Region), "valid_time", req.Target)
		return out, nil
	}

	limit := req.DistanceLimitKm
	if limit <= 0 {
		limit = DefaultDistanceLimitKm
	}
	obsLats := make([]float64, obs.Len())
	for i, o := range obs.Observations {
		obsLats[i] = o.Lat
	}
	matcher := NewMatcher(lats, lons, values, limit, MovingWindow(limit, obsLats))
	e.logger.Debug("matching observations",
		"model", req.Model, "observations", obs.Len(), "grid_points", len(lats), "moving_window", matcher.Window())

	results, err := e.match(ctx, matcher, obs.Observations)
	if err != nil {
		return nil, err
	}

	for i, r := range results {
		if !r.OK() {
			e.metrics.NoMatches.WithLabelValues(string(r.Reason)).Inc()
			continue
		}
		o := obs.Observations[i]
		out.Records = append(out.Records, domain.MatchRecord{
			ObsTime:    o.Time,
			ObsLat:     o.Lat,
			ObsLon:     o.Lon,
			ObsValue:   o.Value,
			ModelLat:   r.Neighbour.Lat,
			ModelLon:   r.Neighbour.Lon,
			ModelValue: r.Neighbour.Value,
			DistanceKm: r.Neighbour.DistanceKm,
			ModelTime:  req.Target,
		})
	}
	e.metrics.Matches.Add(float64(out.Len()))
	return out, nil
}

// restrict applies the region mask to the grid once.
func (e *Engine) restrict(ctx context.Context, req Request) (lats, lons, values []float64, err error) {
	g := req.Grid
	if e.skipMask(req.Region) {
		return g.Lats, g.Lons, g.Values, nil
	}
	mask, err := e.regions.Resolve(ctx, req.Region, req.Target)
	if err != nil {
		return nil, nil, nil, err
	}
	idx := mask.Select(g.Lats, g.Lons)
	lats = make([]float64, len(idx))
	lons = make([]float64, len(idx))
	values = make([]float64, len(idx))
	for k, i := range idx {
		lats[k], lons[k], values[k] = g.Lats[i], g.Lons[i], g.Values[i]
	}
	return lats, lons, values, nil
}

func (e *Engine) skipMask(r catalog.Region) bool {
	if r == nil {
		return true
	}
	if _, ok := r.(catalog.Global); ok {
		return true
	}
	return e.unmasked[strings.ToLower(r.RegionName())]
}

// match runs the matcher over obs in chunks. Results are stored by index so
// output order does not depend on scheduling.
func (e *Engine) match(ctx context.Context, m *Matcher, obs []domain.Observation) ([]Result, error) {
	results := make([]Result, len(obs))

	chunk := (len(obs) + e.workers - 1) / e.workers
	if chunk < minChunk {
		chunk = minChunk
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for lo := 0; lo < len(obs); lo += chunk {
		hi := min(lo+chunk, len(obs))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%minChunk == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				results[i] = m.Nearest(obs[i].Lat, obs[i].Lon)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func regionName(r catalog.Region) string {
	if r == nil {
		return catalog.GlobalRegion
	}
	return r.RegionName()
}
