// Command genmock writes a synthetic model run, matching satellite tracks and a
// catalog describing them, so the collocation service can be exercised
// without access to real model archives.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock \
//	  -date 2020-01-01
//
// and then
//
//	CATALOG_PATH=data/mock/catalog.yaml MODEL=mock VARIABLE=Hs \
//	OBS_PATTERN='data/mock/track_*.nc' OBS_VARIABLE=VAVH \
//	START_DATE=2020-01-01T06 END_DATE=2020-01-01T18 DATE_INCREMENT=6h \
//	go run ./cmd/collocate
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

const (
	lon0, lat0 = -5.0, 55.0
	resolution = 0.25
	steps      = 24
	fillValue  = float32(-999)
)

// passes are the hours at which the synthetic satellite crosses the grid.
var passes = []int{6, 12, 18}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory")
	date := flag.String("date", "2020-01-01", "model run date (YYYY-MM-DD)")
	nx := flag.Int("nx", 81, "grid cells along longitude")
	ny := flag.Int("ny", 61, "grid cells along latitude")
	seed := flag.Uint64("seed", 1, "noise seed for observations")
	flag.Parse()

	day, err := time.ParseInLocation("2006-01-02", *date, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid -date %q: %w", *date, err)
	}
	if *nx < 2 || *ny < 2 {
		return fmt.Errorf("grid must be at least 2x2, got %dx%d", *ny, *nx)
	}
	dir, err := filepath.Abs(*out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	gridPath := filepath.Join(dir, "mock_"+day.Format("2006010215")+".nc")
	if err := writeGrid(gridPath, day, *nx, *ny); err != nil {
		return fmt.Errorf("writing grid: %w", err)
	}
	log.Printf("wrote grid: %s (%dx%d, %d steps)", gridPath, *ny, *nx, steps)

	rng := rand.New(rand.NewPCG(*seed, *seed))
	for _, h := range passes {
		pass := day.Add(time.Duration(h) * time.Hour)
		path := filepath.Join(dir, "track_"+pass.Format("2006010215")+".nc")
		n, err := writeTrack(path, day, pass, rng)
		if err != nil {
			return fmt.Errorf("writing track %s: %w", path, err)
		}
		log.Printf("wrote track: %s (%d observations)", path, n)
	}

	catPath := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catPath, []byte(catalogYAML(dir, *nx, *ny)), 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	log.Printf("wrote catalog: %s", catPath)
	return nil
}

// hs is the synthetic significant wave height field.
func hs(lat, lon float64, hour float64) float64 {
	return 2.5 + 1.5*math.Sin((lat-lat0)/3+hour/12)*math.Cos((lon-lon0)/4)
}

func writeGrid(path string, day time.Time, nx, ny int) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}

	lons := make([]float32, nx)
	for i := range lons {
		lons[i] = float32(lon0 + float64(i)*resolution)
	}
	lats := make([]float32, ny)
	for j := range lats {
		lats[j] = float32(lat0 + float64(j)*resolution)
	}
	hours := make([]float64, steps)
	field := make([][][]float32, steps)
	for k := range field {
		hours[k] = float64(k)
		field[k] = make([][]float32, ny)
		for j := range field[k] {
			row := make([]float32, nx)
			for i := range row {
				row[i] = float32(hs(float64(lats[j]), float64(lons[i]), hours[k]))
			}
			// The easternmost column is land.
			row[nx-1] = fillValue
			field[k][j] = row
		}
	}

	vars := []struct {
		name string
		v    api.Variable
	}{
		{"time", api.Variable{Values: hours, Dimensions: []string{"time"}, Attributes: attributes(
			"units", "hours since "+day.Format("2006-01-02 15:04:05"),
			"standard_name", "time",
		)}},
		{"latitude", api.Variable{Values: lats, Dimensions: []string{"latitude"}, Attributes: attributes("units", "degrees_north")}},
		{"longitude", api.Variable{Values: lons, Dimensions: []string{"longitude"}, Attributes: attributes("units", "degrees_east")}},
		{"hs", api.Variable{Values: field, Dimensions: []string{"time", "latitude", "longitude"}, Attributes: attributes(
			"units", "m",
			"_FillValue", []float32{fillValue},
		)}},
	}
	for _, v := range vars {
		if err := cw.AddVar(v.name, v.v); err != nil {
			cw.Close()
			return fmt.Errorf("add %s: %w", v.name, err)
		}
	}
	return cw.Close()
}

// writeTrack writes one descending pass: 5 s sampling across the grid from
// south to north, centred on the pass time.
func writeTrack(path string, day, pass time.Time, rng *rand.Rand) (int, error) {
	const n = 240
	start := pass.Add(-time.Duration(n/2) * 5 * time.Second)

	secs := make([]float64, n)
	lats := make([]float32, n)
	lons := make([]float32, n)
	vavh := make([]float32, n)
	for i := range n {
		ts := start.Add(time.Duration(i) * 5 * time.Second)
		frac := float64(i) / float64(n-1)
		lat := lat0 + 0.5 + frac*13
		lon := lon0 + 3 + frac*8
		secs[i] = ts.Sub(day).Seconds()
		lats[i] = float32(lat)
		lons[i] = float32(lon)
		vavh[i] = float32(hs(lat, lon, ts.Sub(day).Hours()) + rng.NormFloat64()*0.2)
	}
	// A dropout in the middle of the pass.
	vavh[n/2+7] = fillValue

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return 0, err
	}
	vars := []struct {
		name string
		v    api.Variable
	}{
		{"time", api.Variable{Values: secs, Dimensions: []string{"time"}, Attributes: attributes("units", "seconds since "+day.Format("2006-01-02 15:04:05"))}},
		{"latitude", api.Variable{Values: lats, Dimensions: []string{"time"}, Attributes: attributes("units", "degrees_north")}},
		{"longitude", api.Variable{Values: lons, Dimensions: []string{"time"}, Attributes: attributes("units", "degrees_east")}},
		{"VAVH", api.Variable{Values: vavh, Dimensions: []string{"time"}, Attributes: attributes(
			"units", "m",
			"_FillValue", []float32{fillValue},
		)}},
	}
	for _, v := range vars {
		if err := cw.AddVar(v.name, v.v); err != nil {
			cw.Close()
			return 0, fmt.Errorf("add %s: %w", v.name, err)
		}
	}
	return n, cw.Close()
}

// attributes builds an ordered attribute map from alternating keys and values.
func attributes(kv ...any) api.AttributeMap {
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k := kv[i].(string)
		keys = append(keys, k)
		vals[k] = kv[i+1]
	}
	m, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		log.Fatalf("attributes %v: %v", keys, err)
	}
	return m
}

func catalogYAML(dir string, nx, ny int) string {
	latMax := lat0 + float64(ny-1)*resolution
	lonMax := lon0 + float64(nx-1)*resolution
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by genmock.\n")
	fmt.Fprintf(&b, "regions:\n  rect:\n")
	fmt.Fprintf(&b, "    MockBox: {llcrnrlat: %g, urcrnrlat: %g, llcrnrlon: %g, urcrnrlon: %g}\n",
		lat0+2, latMax-2, lon0+2, lonMax-2)
	fmt.Fprintf(&b, "    MockArctic: {boundinglat: %g}\n", latMax-3)
	fmt.Fprintf(&b, "models:\n  mock:\n")
	fmt.Fprintf(&b, "    path_template: '%s/mock_{{.Init | date \"2006010215\"}}.nc'\n", filepath.ToSlash(dir))
	fmt.Fprintf(&b, "    init_times: [0]\n")
	fmt.Fprintf(&b, "    max_lead_time: %d\n", steps-1)
	fmt.Fprintf(&b, "    coords: {lons: longitude, lats: latitude, time: time}\n")
	fmt.Fprintf(&b, "    vars:\n      Hs: {name: hs}\n")
	return b.String()
}
