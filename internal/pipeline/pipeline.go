package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/collocation"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
)

// FileResolver locates the model file holding a valid date.
type FileResolver interface {
	Resolve(ctx context.Context, model *catalog.Model, instant time.Time, lead gridfile.LeadTime, opts ...gridfile.ResolveOption) (gridfile.Resolution, error)
}

// AxesLoader returns the parsed axes of a model file.
type AxesLoader interface {
	GetOrLoad(ctx context.Context, key gridcache.Key) (*domain.GridAxes, error)
}

// FieldReader reads one model variable at one valid time.
type FieldReader interface {
	ReadField(ctx context.Context, axes *domain.GridAxes, timeVar string, v catalog.Variable, t time.Time) (*domain.GridSnapshot, error)
}

// ObservationSource supplies observations of a variable within [from, to].
type ObservationSource interface {
	Observations(ctx context.Context, variable string, from, to time.Time) (domain.ObservationSeries, error)
}

// RegionMasker resolves a catalog region into a mask.
type RegionMasker interface {
	Resolve(ctx context.Context, r catalog.Region, refDate time.Time) (region.Mask, error)
}

// Collocator matches observations against a model field.
type Collocator interface {
	Collocate(ctx context.Context, req collocation.Request) (*domain.Collocation, error)
}

// Publisher writes the records of a collocation to the sink.
type Publisher interface {
	Publish(ctx context.Context, c *domain.Collocation) error
}

// Stages groups the collaborators of a Pipeline.
type Stages struct {
	Files        FileResolver
	Axes         AxesLoader
	Fields       FieldReader
	Observations ObservationSource
	Regions      RegionMasker
	Collocator   Collocator
	// Publisher may be nil, in which case collocations are only counted.
	Publisher Publisher
}

// Settings selects what a Pipeline collocates.
type Settings struct {
	Model       string
	Variable    string
	Region      string
	ObsVariable string
	// MaskObservations drops observations outside the region before matching.
	MaskObservations bool

	Start, End time.Time
	Step       time.Duration

	Lead        gridfile.LeadTime
	MaxLeadTime int

	DistanceLimitKm float64
	TimeWindow      time.Duration
}

// Summary reports the outcome of a run over a range of valid dates.
type Summary struct {
	Dates      int
	Collocated int
	Skipped    int
	Records    int
}

// Pipeline runs collocations over a range of valid dates.
type Pipeline struct {
	catalog  *catalog.Catalog
	stages   Stages
	settings Settings
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// New creates a Pipeline.
func New(cat *catalog.Catalog, stages Stages, settings Settings, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if settings.Step <= 0 {
		settings.Step = time.Hour
	}
	if settings.ObsVariable == "" {
		settings.ObsVariable = settings.Variable
	}
	return &Pipeline{
		catalog:  cat,
		stages:   stages,
		settings: settings,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once the pipeline has collocated at least one
// valid date, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not collocated any valid date yet")
	}
	return nil
}

// Run collocates the configured date range. With no start date it collocates
// the most recent valid date instead.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if p.settings.Start.IsZero() {
		return p.RunLatest(ctx)
	}
	end := p.settings.End
	if end.IsZero() {
		end = p.settings.Start
	}
	return p.RunRange(ctx, p.settings.Start, end, p.settings.Step)
}

// RunLatest collocates the most recent valid date whose observation window has
// fully elapsed.
func (p *Pipeline) RunLatest(ctx context.Context) (Summary, error) {
	d := LatestValidDate(p.clock.Now(), p.settings.Step, p.settings.TimeWindow)
	return p.RunRange(ctx, d, d, p.settings.Step)
}

// RunRange collocates every valid date in [start, end] spaced by step.
// Dates whose data is unavailable are logged, counted and skipped. A
// configuration error, a publish failure or cancellation stops the run.
func (p *Pipeline) RunRange(ctx context.Context, start, end time.Time, step time.Duration) (Summary, error) {
	var sum Summary
	dates, err := ValidDates(start, end, step)
	if err != nil {
		return sum, err
	}
	target, err := p.target()
	if err != nil {
		return sum, err
	}

	p.logger.Info("collocation run started",
		"model", p.settings.Model,
		"variable", p.settings.Variable,
		"region", p.settings.Region,
		"start", start,
		"end", end,
		"dates", len(dates),
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			p.logger.Info("collocation run stopping", "reason", err)
			return sum, err
		}
		sum.Dates++

		c, err := p.collocateDate(ctx, target, d)
		if err != nil {
			if errors.Is(err, domain.ErrConfiguration) || ctx.Err() != nil {
				return sum, err
			}
			failed := domain.FailedStep(err)
			p.logger.Warn("valid date skipped", "valid_time", d, "step", failed, "error", err)
			p.metrics.RunFailures.WithLabelValues(stepLabel(failed)).Inc()
			sum.Skipped++
			continue
		}

		if err := p.publish(ctx, c); err != nil {
			return sum, fmt.Errorf("publish %s: %w", d.Format(time.RFC3339), err)
		}
		sum.Collocated++
		sum.Records += c.Len()
		p.metrics.DatesProcessed.Inc()
		p.ready.Store(true)
		p.logger.Info("valid date collocated", "valid_time", d, "records", c.Len())
	}

	p.logger.Info("collocation run finished",
		"dates", sum.Dates, "collocated", sum.Collocated, "skipped", sum.Skipped, "records", sum.Records)
	return sum, nil
}

// CollocateDate collocates a single valid date without publishing.
func (p *Pipeline) CollocateDate(ctx context.Context, d time.Time) (*domain.Collocation, error) {
	target, err := p.target()
	if err != nil {
		return nil, err
	}
	return p.collocateDate(ctx, target, d)
}

func (p *Pipeline) publish(ctx context.Context, c *domain.Collocation) error {
	if p.stages.Publisher == nil || c.Len() == 0 {
		return nil
	}

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		if err = p.stages.Publisher.Publish(ctx, c); err == nil {
			return nil
		}
		p.logger.Error("publish failed", "error", err, "attempt", attempt, "records", c.Len())
		if attempt == maxPublishAttempts || !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return err
}

const maxPublishAttempts = 3

func stepLabel(s domain.Step) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
