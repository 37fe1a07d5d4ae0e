package netcdf

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

var epochLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04Z",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// TimeUnits is a decoded CF "<unit> since <epoch>" time unit.
type TimeUnits struct {
	Step  time.Duration
	Epoch time.Time
}

// ParseTimeUnits decodes a CF time units attribute such as
// "hours since 1900-01-01 00:00:00".
func ParseTimeUnits(units string) (TimeUnits, error) {
	unit, epoch, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return TimeUnits{}, fmt.Errorf("time units %q: missing \"since\"", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "days", "day", "d":
		step = 24 * time.Hour
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "milliseconds", "millisecond", "msec", "ms":
		step = time.Millisecond
	default:
		return TimeUnits{}, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}

	epoch = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(epoch), "UTC"))
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, epoch); err == nil {
			return TimeUnits{Step: step, Epoch: t.UTC()}, nil
		}
	}
	return TimeUnits{}, fmt.Errorf("time units %q: unparseable epoch %q", units, epoch)
}

// Decode converts offsets in u to instants, rounded to the nearest second.
func (u TimeUnits) Decode(offsets []float64) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, v := range offsets {
		d := time.Duration(math.Round(v * float64(u.Step) / float64(time.Second)))
		out[i] = u.Epoch.Add(d * time.Second)
	}
	return out
}

// Packing holds the CF attributes that map stored values to physical ones.
type Packing struct {
	ScaleFactor float64
	AddOffset   float64
	Fill        []float64
}

// PackingOf reads scale_factor, add_offset, _FillValue and missing_value.
func PackingOf(attrs api.AttributeMap) Packing {
	p := Packing{ScaleFactor: 1}
	if attrs == nil {
		return p
	}
	if v, ok := attrFloat(attrs, "scale_factor"); ok {
		p.ScaleFactor = v
	}
	if v, ok := attrFloat(attrs, "add_offset"); ok {
		p.AddOffset = v
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrFloat(attrs, key); ok {
			p.Fill = append(p.Fill, v)
		}
	}
	return p
}

// Unpack converts raw values in place. Fill values become NaN.
func (p Packing) Unpack(raw []float64) []float64 {
	for i, v := range raw {
		if p.isFill(v) {
			raw[i] = math.NaN()
			continue
		}
		raw[i] = v*p.ScaleFactor + p.AddOffset
	}
	return raw
}

func (p Packing) isFill(v float64) bool {
	for _, f := range p.Fill {
		if v == f || (math.IsNaN(f) && math.IsNaN(v)) {
			return true
		}
	}
	return false
}

func attrString(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// attrFloat reads a numeric attribute stored as a scalar or a one-element
// array.
func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, _, err := flatten(v)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// flatten converts the nested numeric slices returned by the reader to a flat
// row-major []float64 and reports the shape.
func flatten(v any) ([]float64, []int, error) {
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...), []int{len(x)}, nil
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, []int{len(x)}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		f, err := scalar(rv)
		if err != nil {
			return nil, nil, err
		}
		return []float64{f}, nil, nil
	}

	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	out := make([]float64, 0, n)
	var walk func(reflect.Value) error
	walk = func(rv reflect.Value) error {
		if rv.Kind() == reflect.Slice {
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		f, err := scalar(rv)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, err
	}
	if len(out) != n {
		return nil, nil, fmt.Errorf("ragged array of shape %v", shape)
	}
	return out, shape, nil
}

func scalar(rv reflect.Value) (float64, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	default:
		return 0, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
