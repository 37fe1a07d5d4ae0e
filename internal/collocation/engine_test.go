package collocation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/collocation"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
)

var validTime = time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingRegions resolves regions with the real masker and counts calls.
type countingRegions struct {
	masker *region.Masker
	calls  int
	err    error
}

func (c *countingRegions) Resolve(ctx context.Context, r catalog.Region, refDate time.Time) (region.Mask, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.masker.Resolve(ctx, r, refDate)
}

func newRegions() *countingRegions {
	return &countingRegions{masker: region.NewMasker(nil, nil, nil, clockwork.NewFakeClock(), discardLogger())}
}

func newEngine(regions collocation.RegionResolver, metrics *observability.Metrics, opts ...collocation.Option) *collocation.Engine {
	return collocation.NewEngine(regions, discardLogger(), metrics, opts...)
}

func snapshot(lats, lons, values []float64) *domain.GridSnapshot {
	return &domain.GridSnapshot{
		Path:     "/data/mwam4_2020010112.nc",
		Variable: "hs",
		Time:     validTime,
		Lats:     lats,
		Lons:     lons,
		Values:   values,
	}
}

func gridTimes() []time.Time {
	return []time.Time{validTime.Add(-time.Hour), validTime, validTime.Add(time.Hour)}
}

func series(obs ...domain.Observation) domain.ObservationSeries {
	return domain.ObservationSeries{Platform: "s3a", Variable: "Hs", Observations: obs}
}

func scenarioRequest(limit float64) collocation.Request {
	return collocation.Request{
		Model:           "mwam4",
		Variable:        "Hs",
		Grid:            snapshot([]float64{60.01, 60.5}, []float64{5.02, 5.0}, []float64{2.1, 3.0}),
		GridTimes:       gridTimes(),
		Observations:    series(domain.Observation{Time: validTime, Lat: 60.0, Lon: 5.0, Value: 2.3}),
		Target:          validTime,
		TimeWindow:      30 * time.Minute,
		DistanceLimitKm: limit,
	}
}

// --- scenarios ---

func TestCollocate_SingleMatch(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	e := newEngine(newRegions(), metrics)

	got, err := e.Collocate(context.Background(), scenarioRequest(6))
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())

	rec := got.Records[0]
	assert.InDelta(t, 1.57, rec.DistanceKm, 0.01)
	assert.InDelta(t, 2.3, rec.ObsValue, 0)
	assert.InDelta(t, 2.1, rec.ModelValue, 0)
	assert.InDelta(t, 60.01, rec.ModelLat, 0)
	assert.InDelta(t, 5.02, rec.ModelLon, 0)
	assert.Equal(t, validTime, rec.ModelTime)
	assert.Equal(t, validTime, got.ValidTime)
	assert.Equal(t, "s3a", got.Platform)
	assert.Equal(t, "mwam4", got.Model)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Matches), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ObservationsConsidered), 0)
}

func TestCollocate_DistanceLimit(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	e := newEngine(newRegions(), metrics)

	got, err := e.Collocate(context.Background(), scenarioRequest(1))
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.NoMatches.WithLabelValues("out_of_range")), 0)
}

func TestCollocate_DefaultDistanceLimit(t *testing.T) {
	req := scenarioRequest(0)
	// 5.5 km away: inside the default 6 km.
	req.Grid = snapshot([]float64{60.0}, []float64{5.099}, []float64{1.0})

	got, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.LessOrEqual(t, got.Records[0].DistanceKm, collocation.DefaultDistanceLimitKm)
}

func TestCollocate_NegativeModelValue(t *testing.T) {
	req := scenarioRequest(6)
	req.Grid = snapshot([]float64{60.01, 60.02}, []float64{5.02, 5.0}, []float64{-1, 2.0})

	got, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
}

func TestCollocate_PolarCapExcludesSouthernCell(t *testing.T) {
	req := scenarioRequest(6)
	req.Observations = series(domain.Observation{Time: validTime, Lat: 66.0, Lon: 10.0, Value: 1.5})
	// The 65.99 cell is nearest but outside the cap.
	req.Grid = snapshot([]float64{65.99, 66.03}, []float64{10.0, 10.0}, []float64{1.1, 1.4})
	req.Region = catalog.PolarCap{Name: "Arctic", BoundingLat: 66.0}

	regions := newRegions()
	got, err := newEngine(regions, observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.InDelta(t, 66.03, got.Records[0].ModelLat, 0)
	assert.Equal(t, 1, regions.calls)
}

// --- edge cases ---

func TestCollocate_MissingTimestamp(t *testing.T) {
	req := scenarioRequest(6)
	req.GridTimes = []time.Time{validTime.Add(-time.Hour), validTime.Add(time.Hour)}

	_, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Equal(t, domain.StepTimestamp, domain.FailedStep(err))
}

func TestCollocate_GridValidAtOtherTime(t *testing.T) {
	req := scenarioRequest(6)
	req.Grid.Time = validTime.Add(time.Hour)

	_, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.StepTimestamp, domain.FailedStep(err))
}

func TestCollocate_NoObservationsInWindow(t *testing.T) {
	req := scenarioRequest(6)
	req.Observations = series(
		domain.Observation{Time: validTime.Add(-31 * time.Minute), Lat: 60.0, Lon: 5.0, Value: 2.3},
		domain.Observation{Time: validTime.Add(45 * time.Minute), Lat: 60.0, Lon: 5.0, Value: 2.3},
	)

	regions := newRegions()
	got, err := newEngine(regions, observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.NotNil(t, got.Records)
	assert.Zero(t, regions.calls, "region not resolved without observations")
}

func TestCollocate_GridFullyMasked(t *testing.T) {
	req := scenarioRequest(6)
	req.Region = catalog.Rectangle{Name: "Med", LLCrnrLat: 30, URCrnrLat: 46, LLCrnrLon: -6, URCrnrLon: 36}

	got, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
}

func TestCollocate_UnmaskedRegions(t *testing.T) {
	req := scenarioRequest(6)
	// Would mask everything if applied.
	req.Region = catalog.Rectangle{Name: "ecwam", LLCrnrLat: -1, URCrnrLat: 0, LLCrnrLon: -1, URCrnrLon: 0}

	regions := newRegions()
	got, err := newEngine(regions, observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Zero(t, regions.calls)

	regions = newRegions()
	got, err = newEngine(regions, observability.NewMetricsForTesting(), collocation.WithUnmaskedRegions()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.Equal(t, 1, regions.calls)

	req.Region = catalog.Global{}
	regions = newRegions()
	_, err = newEngine(regions, observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, regions.calls)
}

func TestCollocate_RegionError(t *testing.T) {
	req := scenarioRequest(6)
	req.Region = catalog.ModelGrid{Name: "mwam4", Model: "mwam4"}
	regions := &countingRegions{err: domain.NewStepError(domain.StepRegion, domain.Configurationf("model %q is not defined", "mwam4"))}

	_, err := newEngine(regions, observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, domain.StepRegion, domain.FailedStep(err))
}

func TestCollocate_BadObservationDoesNotAbortBatch(t *testing.T) {
	req := scenarioRequest(6)
	req.Observations = series(
		domain.Observation{Time: validTime, Lat: math.NaN(), Lon: 5.0, Value: 2.3},
		domain.Observation{Time: validTime, Lat: 60.0, Lon: 5.0, Value: 2.3},
		domain.Observation{Time: validTime, Lat: 60.0, Lon: math.Inf(1), Value: 2.3},
	)

	got, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestCollocate_NilGrid(t *testing.T) {
	req := scenarioRequest(6)
	req.Grid = nil

	_, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.StepGridRead, domain.FailedStep(err))
}

func TestCollocate_Cancelled(t *testing.T) {
	req := randomRequest(rand.New(rand.NewSource(7)), 5000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(newRegions(), observability.NewMetricsForTesting()).Collocate(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// --- properties ---

// randomRequest builds a 0.05° grid over the North Sea with a few sentinel
// cells and n observations scattered over and around it.
func randomRequest(rng *rand.Rand, n int) collocation.Request {
	var lats, lons, values []float64
	for lat := 55.0; lat <= 62.0; lat += 0.05 {
		for lon := 0.0; lon <= 8.0; lon += 0.05 {
			lats = append(lats, lat)
			lons = append(lons, lon)
			v := rng.Float64() * 6
			if rng.Intn(20) == 0 {
				v = -999
			}
			values = append(values, v)
		}
	}
	obs := make([]domain.Observation, n)
	for i := range obs {
		obs[i] = domain.Observation{
			Time:  validTime.Add(time.Duration(rng.Intn(120)-60) * time.Minute),
			Lat:   54.5 + rng.Float64()*8,
			Lon:   -0.5 + rng.Float64()*9,
			Value: rng.Float64() * 6,
		}
	}
	return collocation.Request{
		Model:           "mwam4",
		Variable:        "Hs",
		Grid:            snapshot(lats, lons, values),
		GridTimes:       gridTimes(),
		Observations:    series(obs...),
		Target:          validTime,
		TimeWindow:      30 * time.Minute,
		Region:          catalog.Rectangle{Name: "Box", LLCrnrLat: 56, URCrnrLat: 61, LLCrnrLon: 1, URCrnrLon: 7},
		DistanceLimitKm: 4,
	}
}

func TestCollocate_Properties(t *testing.T) {
	req := randomRequest(rand.New(rand.NewSource(42)), 3000)

	got, err := newEngine(newRegions(), observability.NewMetricsForTesting(), collocation.WithWorkers(4)).Collocate(context.Background(), req)
	require.NoError(t, err)
	require.NotZero(t, got.Len())

	box := region.Box{MinLat: 56, MaxLat: 61, MinLon: 1, MaxLon: 7}
	for _, r := range got.Records {
		assert.LessOrEqual(t, domain.Haversine(r.ObsLon, r.ObsLat, r.ModelLon, r.ModelLat), req.DistanceLimitKm)
		assert.True(t, r.ModelTime.Equal(req.Target))
		assert.True(t, box.Contains(r.ModelLat, r.ModelLon), "model point %v,%v outside region", r.ModelLat, r.ModelLon)
		assert.GreaterOrEqual(t, r.ModelValue, 0.0)
		assert.LessOrEqual(t, r.ObsTime.Sub(req.Target).Abs(), req.TimeWindow)
	}
}

func TestCollocate_ParallelPreservesObservationOrder(t *testing.T) {
	req := randomRequest(rand.New(rand.NewSource(1)), 4000)

	serial, err := newEngine(newRegions(), observability.NewMetricsForTesting(), collocation.WithWorkers(1)).Collocate(context.Background(), req)
	require.NoError(t, err)
	parallel, err := newEngine(newRegions(), observability.NewMetricsForTesting(), collocation.WithWorkers(8)).Collocate(context.Background(), req)
	require.NoError(t, err)

	if diff := cmp.Diff(serial.Columns(), parallel.Columns()); diff != "" {
		t.Errorf("parallel result differs from serial (-serial +parallel):\n%s", diff)
	}

	// Records follow the order of the observations they came from.
	last := -1
	for _, r := range parallel.Records {
		i := observationIndex(req, r)
		require.GreaterOrEqual(t, i, 0)
		assert.Greater(t, i, last)
		last = i
	}
}

func observationIndex(req collocation.Request, r domain.MatchRecord) int {
	for i, o := range req.Observations.Observations {
		if o.Time.Equal(r.ObsTime) && o.Lat == r.ObsLat && o.Lon == r.ObsLon {
			return i
		}
	}
	return -1
}
