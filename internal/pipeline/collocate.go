package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/collocation"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
)

// runTarget is the catalog lookup shared by every date of a run.
type runTarget struct {
	model  *catalog.Model
	field  catalog.Variable
	region catalog.Region
}

func (p *Pipeline) target() (runTarget, error) {
	model, err := p.catalog.Model(p.settings.Model)
	if err != nil {
		return runTarget{}, domain.NewStepError(domain.StepFileResolution, err)
	}
	r, err := p.catalog.Region(p.settings.Region)
	if err != nil {
		return runTarget{}, domain.NewStepError(domain.StepRegion, err)
	}
	return runTarget{model: model, field: model.FileVariable(p.settings.Variable), region: r}, nil
}

func (p *Pipeline) collocateDate(ctx context.Context, t runTarget, d time.Time) (*domain.Collocation, error) {
	var opts []gridfile.ResolveOption
	if p.settings.MaxLeadTime > 0 {
		opts = append(opts, gridfile.WithMaxLeadTime(p.settings.MaxLeadTime))
	}
	res, err := p.stages.Files.Resolve(ctx, t.model, d, p.settings.Lead, opts...)
	if err != nil {
		return nil, err
	}

	axes, err := p.stages.Axes.GetOrLoad(ctx, gridcache.Key{
		Path:    res.Path,
		LonVar:  t.model.Coords.Lons,
		LatVar:  t.model.Coords.Lats,
		TimeVar: t.model.Coords.Time,
	})
	if err != nil {
		return nil, withStep(domain.StepGridRead, err)
	}

	grid, err := p.stages.Fields.ReadField(ctx, axes, t.model.Coords.Time, t.field, d)
	if err != nil {
		return nil, withStep(domain.StepGridRead, err)
	}

	window := p.settings.TimeWindow
	obs, err := p.stages.Observations.Observations(ctx, p.settings.ObsVariable, d.Add(-window), d.Add(window))
	if err != nil {
		return nil, withStep(domain.StepObservations, err)
	}

	if p.settings.MaskObservations && obs.Len() > 0 {
		if obs, err = p.maskObservations(ctx, t.region, d, obs); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("collocating valid date",
		"valid_time", d,
		"path", res.Path,
		"lead_time", res.LeadTime,
		"observations", obs.Len(),
	)
	return p.stages.Collocator.Collocate(ctx, collocation.Request{
		Model:           p.settings.Model,
		Variable:        p.settings.Variable,
		Grid:            grid,
		GridTimes:       axes.Times,
		Observations:    obs,
		Target:          d,
		TimeWindow:      window,
		Region:          t.region,
		DistanceLimitKm: p.settings.DistanceLimitKm,
	})
}

// maskObservations keeps the observations inside r.
func (p *Pipeline) maskObservations(ctx context.Context, r catalog.Region, d time.Time, obs domain.ObservationSeries) (domain.ObservationSeries, error) {
	if _, ok := r.(catalog.Global); ok || r == nil {
		return obs, nil
	}
	mask, err := p.stages.Regions.Resolve(ctx, r, d)
	if err != nil {
		return obs, withStep(domain.StepRegion, err)
	}
	lats := make([]float64, obs.Len())
	lons := make([]float64, obs.Len())
	for i, o := range obs.Observations {
		lats[i], lons[i] = o.Lat, o.Lon
	}
	kept := obs.Subset(mask.Select(lats, lons))
	if kept.Len() < obs.Len() {
		p.logger.Debug("observations outside region dropped",
			"region", r.RegionName(), "dropped", obs.Len()-kept.Len())
	}
	return kept, nil
}

// withStep attaches step to err unless err already names one.
func withStep(step domain.Step, err error) error {
	if domain.FailedStep(err) != "" {
		return err
	}
	return domain.NewStepError(step, err)
}
