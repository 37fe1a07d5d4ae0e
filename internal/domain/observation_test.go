package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationSeries_Subset(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	s := ObservationSeries{
		Platform: "s3a",
		Variable: "Hs",
		Observations: []Observation{
			{Time: t0, Lat: 60, Lon: 5, Value: 2.3},
			{Time: t0.Add(time.Second), Lat: 60.1, Lon: 5, Value: 2.4},
			{Time: t0.Add(2 * time.Second), Lat: 60.2, Lon: 5, Value: 2.5},
		},
	}

	sub := s.Subset([]int{2, 0})
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, 2.5, sub.Observations[0].Value)
	assert.Equal(t, 2.3, sub.Observations[1].Value)
	assert.Equal(t, "s3a", sub.Platform)
	assert.Equal(t, []time.Time{t0.Add(2 * time.Second), t0}, sub.Times())
}

func TestObservationSeries_Merge(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	a := ObservationSeries{Platform: "s3a", Variable: "Hs", Observations: []Observation{{Time: t0}}}
	b := ObservationSeries{Platform: "s3a", Variable: "Hs", Observations: []Observation{{Time: t0.Add(time.Minute)}}}

	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, 1, a.Len(), "merge must not modify the receiver")

	_, err = a.Merge(ObservationSeries{Variable: "U10"})
	require.Error(t, err)

	merged, err = ObservationSeries{}.Merge(b)
	require.NoError(t, err)
	assert.Equal(t, "Hs", merged.Variable)
	assert.Equal(t, "s3a", merged.Platform)
}

func TestStationSeries(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := StationSeries("ekofiskL", "Hs", 56.5, 3.2, []time.Time{t0, t0.Add(10 * time.Minute)}, []float64{1.1, 1.2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	for _, o := range s.Observations {
		assert.Equal(t, 56.5, o.Lat)
		assert.Equal(t, 3.2, o.Lon)
	}

	_, err = StationSeries("ekofiskL", "Hs", 56.5, 3.2, []time.Time{t0}, nil)
	require.Error(t, err)
}
