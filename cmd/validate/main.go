// Command validate checks a collocation catalog against the data on disk. For
// every model it renders the path template, locates a grid file for the
// requested valid date, loads the grid axes and verifies the valid date is on
// the time axis. Region definitions derived from model grids are resolved too.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -catalog configs/catalog.yaml \
//	  -date 2020-01-01T12 \
//	  -lead best
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wave-collocation-service/internal/adapter/netcdf"
	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	catalogPath := flag.String("catalog", "configs/catalog.yaml", "path to the model and region catalog")
	date := flag.String("date", "", "valid date to check (RFC3339 or 2006-01-02T15); defaults to the current hour")
	lead := flag.String("lead", "best", `lead time in hours, or "best"`)
	flag.Parse()

	if code := run(*catalogPath, *date, *lead); code != 0 {
		os.Exit(code)
	}
}

func run(catalogPath, dateArg, leadArg string) int {
	fmt.Println("=== Collocation Catalog Validation ===")
	fmt.Println()

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load catalog: %v\n", err)
		return 1
	}

	clock := clockwork.NewRealClock()
	valid, err := parseDate(dateArg, clock.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	lead, err := parseLead(leadArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	reader := netcdf.NewReader(logger)
	cache := gridcache.New(reader, gridcache.DefaultCapacity, metrics)
	resolver := gridfile.NewResolver(logger, metrics)
	masker := region.NewMasker(cat, resolver, cache, clock, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	phases := make([]*phase, 0, len(cat.Models())+1)
	for _, name := range cat.Models() {
		phases = append(phases, validateModel(ctx, cat, name, resolver, cache, valid, lead))
	}
	phases = append(phases, validateRegions(ctx, cat, masker, valid))

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Valid date %s, lead %s: %d models, %d regions\n",
		valid.Format(time.RFC3339), lead, len(cat.Models()), len(cat.Regions()))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateModel(ctx context.Context, cat *catalog.Catalog, name string, resolver *gridfile.Resolver, cache *gridcache.Cache, valid time.Time, lead gridfile.LeadTime) *phase {
	p := &phase{name: "model " + name}
	model, err := cat.Model(name)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	var opts []gridfile.ResolveOption
	if model.MaxLeadTime == 0 {
		opts = append(opts, gridfile.WithMaxLeadTime(searchMaxLead))
	}
	res, err := resolver.Resolve(ctx, model, valid, lead, opts...)
	if err != nil {
		p.errorf("resolve grid file: %v", err)
		return p
	}
	fmt.Printf("  %-10s %s (init %s, lead %dh, %d attempts)\n",
		name, res.Escaped, res.Init.Format(time.RFC3339), res.LeadTime, res.Attempts)

	axes, err := cache.GetOrLoad(ctx, gridcache.Key{
		Path:    res.Path,
		LonVar:  model.Coords.Lons,
		LatVar:  model.Coords.Lats,
		TimeVar: model.Coords.Time,
	})
	if err != nil {
		p.errorf("load axes of %s: %v", res.Path, err)
		return p
	}
	if axes.Len() == 0 {
		p.errorf("%s has an empty grid", res.Path)
	}
	if _, ok := axes.TimeIndex(valid); !ok {
		p.errorf("%s has no time step at %s", res.Path, valid.Format(time.RFC3339))
	}
	if axes.Projection == "" && model.Proj4 == "" && axes.Curvilinear {
		p.errorf("%s is curvilinear but neither the file nor the catalog names a projection", res.Path)
	}
	return p
}

func validateRegions(ctx context.Context, cat *catalog.Catalog, masker *region.Masker, valid time.Time) *phase {
	p := &phase{name: "regions"}
	for _, name := range cat.Regions() {
		if _, err := masker.ResolveName(ctx, name, valid); err != nil {
			p.errorf("region %s: %v", name, err)
		}
	}
	return p
}

// searchMaxLead bounds the lead-time search for models without a maximum.
const searchMaxLead = 72

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15", "2006-01-02"}

func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().Truncate(time.Hour), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid -date %q", s)
}

func parseLead(s string) (gridfile.LeadTime, error) {
	if s == "best" {
		return gridfile.Best(), nil
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 {
		return gridfile.LeadTime{}, fmt.Errorf("invalid -lead %q", s)
	}
	return gridfile.Fixed(h), nil
}
