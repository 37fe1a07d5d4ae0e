package domain

import "time"

// MatchRecord is one observation paired with its nearest valid model cell.
type MatchRecord struct {
	ObsTime    time.Time `json:"obs_time"`
	ObsLat     float64   `json:"obs_lat"`
	ObsLon     float64   `json:"obs_lon"`
	ObsValue   float64   `json:"obs_value"`
	ModelLat   float64   `json:"model_lat"`
	ModelLon   float64   `json:"model_lon"`
	ModelValue float64   `json:"model_value"`
	DistanceKm float64   `json:"distance_km"`
	ModelTime  time.Time `json:"model_time"`
}

// Collocation is the result of matching one observation stream against one
// model time step.
type Collocation struct {
	Model     string
	Platform  string
	Variable  string
	ValidTime time.Time
	Records   []MatchRecord
}

// Len returns the number of matched pairs.
func (c *Collocation) Len() int { return len(c.Records) }

// Columns is the parallel-array view of a collocation, one slice per field.
type Columns struct {
	ValidTime   time.Time
	ObsTimes    []time.Time
	Distances   []float64
	ModelValues []float64
	ObsValues   []float64
	ObsLons     []float64
	ObsLats     []float64
	ModelLons   []float64
	ModelLats   []float64
}

// Columns returns the records as parallel arrays in record order.
func (c *Collocation) Columns() Columns {
	n := len(c.Records)
	cols := Columns{
		ValidTime:   c.ValidTime,
		ObsTimes:    make([]time.Time, n),
		Distances:   make([]float64, n),
		ModelValues: make([]float64, n),
		ObsValues:   make([]float64, n),
		ObsLons:     make([]float64, n),
		ObsLats:     make([]float64, n),
		ModelLons:   make([]float64, n),
		ModelLats:   make([]float64, n),
	}
	for i, r := range c.Records {
		cols.ObsTimes[i] = r.ObsTime
		cols.Distances[i] = r.DistanceKm
		cols.ModelValues[i] = r.ModelValue
		cols.ObsValues[i] = r.ObsValue
		cols.ObsLons[i] = r.ObsLon
		cols.ObsLats[i] = r.ObsLat
		cols.ModelLons[i] = r.ModelLon
		cols.ModelLats[i] = r.ModelLat
	}
	return cols
}
