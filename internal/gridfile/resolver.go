// Package gridfile resolves which model output file holds a forecast for a
// requested valid instant.
package gridfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
)

// LeadTime is either a fixed number of hours or the best-guess sentinel.
type LeadTime struct {
	hours int
	best  bool
}

// Best searches for the smallest accessible lead time.
func Best() LeadTime { return LeadTime{best: true} }

// Fixed requests exactly h hours of lead time.
func Fixed(h int) LeadTime { return LeadTime{hours: h} }

// IsBest reports whether l is the best-guess sentinel.
func (l LeadTime) IsBest() bool { return l.best }

func (l LeadTime) String() string {
	if l.best {
		return "best"
	}
	return fmt.Sprintf("%dh", l.hours)
}

// Resolution is a located grid file.
type Resolution struct {
	// Path is the file path as rendered from the template. Readers open it
	// as is.
	Path string
	// Escaped is Path with shell-significant characters backslash-escaped,
	// for logs and reports meant to be pasted into a shell.
	Escaped  string
	Init     time.Time
	Valid    time.Time
	LeadTime int
	Attempts int
}

// TemplateData is passed to a model's path template.
type TemplateData struct {
	Model string
	Init  time.Time
	Valid time.Time
	Lead  int
}

// ProbeFunc reports whether path can be opened. A nil error means accessible.
type ProbeFunc func(ctx context.Context, path string) error

// OpenProbe opens path on the local filesystem and closes it again.
func OpenProbe(_ context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProbe replaces the accessibility check.
func WithProbe(p ProbeFunc) Option {
	return func(r *Resolver) { r.probe = p }
}

// ResolveOption configures a single resolution.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	maxLead int
}

// WithMaxLeadTime bounds a best-guess search to h hours of lead time. It
// overrides the model's configured maximum.
func WithMaxLeadTime(h int) ResolveOption {
	return func(o *resolveOptions) { o.maxLead = h }
}

// Resolver renders model path templates and probes the resulting files.
type Resolver struct {
	probe   ProbeFunc
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	templates map[string]*template.Template
}

// NewResolver creates a Resolver that probes the local filesystem unless
// WithProbe says otherwise.
func NewResolver(logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Resolver {
	r := &Resolver{
		probe:     OpenProbe,
		logger:    logger,
		metrics:   metrics,
		templates: make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve locates the file of model valid at instant. A fixed lead time is
// tried once. A best-guess lead time starts at BestGuessLead and grows by the
// model's init step until a file is accessible or the maximum lead time is
// exceeded; without any maximum the search runs until ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, model *catalog.Model, instant time.Time, lead LeadTime, opts ...ResolveOption) (Resolution, error) {
	res, err := r.resolve(ctx, model, instant, lead, opts)
	switch {
	case err == nil:
		r.metrics.Resolutions.WithLabelValues("found").Inc()
		r.logger.Debug("grid file resolved",
			"model", model.Name, "path", res.Escaped, "lead_time", res.LeadTime, "attempts", res.Attempts)
	case errors.Is(err, domain.ErrDataUnavailable):
		r.metrics.Resolutions.WithLabelValues("unavailable").Inc()
	default:
		r.metrics.Resolutions.WithLabelValues("error").Inc()
	}
	if err != nil {
		return res, domain.NewStepError(domain.StepFileResolution, err)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, model *catalog.Model, instant time.Time, lead LeadTime, opts []ResolveOption) (Resolution, error) {
	if model == nil {
		return Resolution{}, domain.Configurationf("no model given")
	}
	instant = instant.UTC()

	if !lead.best {
		res, err := r.attempt(ctx, model, instant, lead.hours)
		res.Attempts = 1
		return res, err
	}

	o := resolveOptions{maxLead: model.MaxLeadTime}
	for _, opt := range opts {
		opt(&o)
	}
	step := model.InitStep
	if step <= 0 {
		step = 1
	}

	h := BestGuessLead(model, instant)
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return Resolution{Attempts: attempts}, fmt.Errorf("resolve %s at %s: %w", model.Name, instant.Format(time.RFC3339), err)
		}
		attempts++
		res, err := r.attempt(ctx, model, instant, h)
		res.Attempts = attempts
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrDataUnavailable) {
			return res, err
		}
		r.logger.Debug("grid file not accessible, extending lead time",
			"model", model.Name, "path", res.Path, "lead_time", h)
		h += step
		if o.maxLead > 0 && h > o.maxLead {
			return Resolution{Attempts: attempts}, domain.Unavailablef(
				"no accessible %s file for %s within %dh lead time", model.Name, instant.Format(time.RFC3339), o.maxLead)
		}
	}
}

func (r *Resolver) attempt(ctx context.Context, model *catalog.Model, instant time.Time, lead int) (Resolution, error) {
	init := InitTime(model, instant, lead)
	data := TemplateData{
		Model: model.Name,
		Init:  init,
		Valid: instant,
		Lead:  int(instant.Sub(init) / time.Hour),
	}
	path, err := r.render(model, data)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		Path:     path,
		Escaped:  Escape(path),
		Init:     init,
		Valid:    instant,
		LeadTime: data.Lead,
	}

	r.metrics.ResolverAttempts.Inc()
	if err := r.probe(ctx, path); err != nil {
		return res, domain.Unavailablef("%s: %v", path, err)
	}
	return res, nil
}

func (r *Resolver) render(model *catalog.Model, data TemplateData) (string, error) {
	tmpl, err := r.template(model)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", domain.Configurationf("render path template of %s: %v", model.Name, err)
	}
	return b.String(), nil
}

func (r *Resolver) template(model *catalog.Model) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.templates[model.PathTemplate]; ok {
		return t, nil
	}
	t, err := template.New(model.Name).
		Option("missingkey=error").
		Funcs(templateFuncs).
		Parse(model.PathTemplate)
	if err != nil {
		return nil, domain.Configurationf("parse path template of %s: %v", model.Name, err)
	}
	r.templates[model.PathTemplate] = t
	return t, nil
}

var templateFuncs = template.FuncMap{
	// date formats t with a Go reference layout: {{.Init | date "20060102"}}.
	"date": func(layout string, t time.Time) string { return t.Format(layout) },
	// addHours shifts t: {{addHours .Init 6 | date "15"}}.
	"addHours": func(t time.Time, h int) time.Time { return t.Add(time.Duration(h) * time.Hour) },
}

var escaper = strings.NewReplacer(
	" ", `\ `,
	"?", `\?`,
	"&", `\&`,
	"(", `\(`,
	")", `\)`,
	"*", `\*`,
	"<", `\<`,
	">", `\>`,
)

// Escape backslash-escapes characters that shell and path tooling treat
// specially.
func Escape(path string) string {
	return escaper.Replace(path)
}
