// Package domain models the data exchanged by the wave-model collocation service.
//
// # Sources
//
// Three kinds of time series meet here:
//
//	Satellite altimeter swaths: time-ordered footprints along the ground track,
//	  each carrying a significant wave height (or other variable) value.
//	In-situ stations: fixed platforms (buoys, rigs) whose position is constant
//	  over the series.
//	Gridded model output: one value per grid cell per model time step, read from
//	  NetCDF files whose path depends on the model run (init time) and lead time.
//
// # Conventions
//
// Coordinates are WGS-84 degrees. Longitudes are kept in whatever convention the
// source uses (-180..180 or 0..360); regions and observations are expected to use
// the same convention as the model grid they are matched against.
//
// Distances are great-circle (haversine) kilometres on a sphere of radius
// [EarthRadiusKm].
//
// Timestamps are UTC. Lead times are whole hours between a model run's
// initialization and the forecast instant it describes.
//
// Negative model values are sentinels (e.g. -1 for "no data" in wave height
// fields) and never produce a match.
//
// # Matching
//
// A [Collocation] holds the [MatchRecord]s found for one model time step. Each
// record pairs one observation with the nearest valid grid cell within the
// distance limit; observations without such a cell are dropped. Failures that
// prevent a collocation from being computed at all are reported as a
// [*StepError] wrapping [ErrConfiguration] or [ErrDataUnavailable].
package domain
