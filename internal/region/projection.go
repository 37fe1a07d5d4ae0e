package region

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// geographic is the source reference for projecting lon/lat degrees.
const geographic = "+proj=longlat"

// defaultRadius is the sphere radius used when a definition names neither R
// nor a.
const defaultRadius = 6378137.0

// projection returns a transform from lon/lat degrees into the coordinates of
// the proj4 definition def. Rotated-pole (ob_tran) and polar stereographic
// (stere) grids are handled here. Other definitions go through geom/proj.
func projection(def string) (proj.Transformer, error) {
	params := proj4Params(def)
	switch params["proj"] {
	case "ob_tran":
		r, err := newPoleRotation(params)
		if err != nil {
			return nil, err
		}
		return r.forward, nil
	case "stere":
		return polarStereographic(params)
	}

	src, err := proj.Parse(geographic)
	if err != nil {
		return nil, err
	}
	dst, err := proj.Parse(def)
	if err != nil {
		return nil, err
	}
	return src.NewTransform(dst)
}

func proj4Params(def string) map[string]string {
	params := make(map[string]string)
	for _, f := range strings.Fields(def) {
		k, v, _ := strings.Cut(strings.TrimPrefix(f, "+"), "=")
		params[k] = v
	}
	return params
}

func floatParam(params map[string]string, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("proj4 parameter %s=%q: %w", key, v, err)
	}
	return f, nil
}

// poleRotation moves the north pole to latitude o_lat_p, turning a rotated
// lon/lat grid into a regular one. Angles are kept in radians.
type poleRotation struct {
	sinP, cosP float64
	lonP       float64
	lon0       float64
}

func newPoleRotation(params map[string]string) (poleRotation, error) {
	switch params["o_proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
	default:
		return poleRotation{}, fmt.Errorf("ob_tran: unsupported o_proj %q", params["o_proj"])
	}
	if _, ok := params["o_lat_p"]; !ok {
		return poleRotation{}, errors.New("ob_tran: o_lat_p is required")
	}
	latP, err := floatParam(params, "o_lat_p", 90)
	if err != nil {
		return poleRotation{}, err
	}
	lonP, err := floatParam(params, "o_lon_p", 0)
	if err != nil {
		return poleRotation{}, err
	}
	lon0, err := floatParam(params, "lon_0", 0)
	if err != nil {
		return poleRotation{}, err
	}
	sinP, cosP := math.Sincos(radians(latP))
	return poleRotation{sinP: sinP, cosP: cosP, lonP: radians(lonP), lon0: radians(lon0)}, nil
}

// forward maps geographic lon/lat degrees to rotated lon/lat degrees.
func (r poleRotation) forward(lon, lat float64) (x, y float64, err error) {
	sinPhi, cosPhi := math.Sincos(radians(lat))
	sinLam, cosLam := math.Sincos(radians(lon) - r.lon0)
	x = math.Atan2(cosPhi*sinLam, r.sinP*cosPhi*cosLam+r.cosP*sinPhi) + r.lonP
	y = math.Asin(clampUnit(r.sinP*sinPhi - r.cosP*cosPhi*cosLam))
	return wrapLon(degrees(x)), degrees(y), nil
}

// inverse maps rotated lon/lat degrees back to geographic lon/lat degrees.
func (r poleRotation) inverse(x, y float64) (lon, lat float64, err error) {
	sinPhi, cosPhi := math.Sincos(radians(y))
	sinLam, cosLam := math.Sincos(radians(x) - r.lonP)
	lat = math.Asin(clampUnit(r.sinP*sinPhi + r.cosP*cosPhi*cosLam))
	lon = math.Atan2(cosPhi*sinLam, r.sinP*cosPhi*cosLam-r.cosP*sinPhi) + r.lon0
	return wrapLon(degrees(lon)), degrees(lat), nil
}

// polarStereographic projects lon/lat degrees onto the plane of a north or
// south polar stereographic grid, on a sphere of radius R (or a). Results are
// in metres.
func polarStereographic(params map[string]string) (proj.Transformer, error) {
	lat0, err := floatParam(params, "lat_0", 90)
	if err != nil {
		return nil, err
	}
	if math.Abs(math.Abs(lat0)-90) > 1e-9 {
		return nil, fmt.Errorf("stere: only polar aspects are supported, got lat_0=%g", lat0)
	}
	radius, err := floatParam(params, "a", defaultRadius)
	if err != nil {
		return nil, err
	}
	if radius, err = floatParam(params, "R", radius); err != nil {
		return nil, err
	}
	lon0, err := floatParam(params, "lon_0", 0)
	if err != nil {
		return nil, err
	}
	x0, err := floatParam(params, "x_0", 0)
	if err != nil {
		return nil, err
	}
	y0, err := floatParam(params, "y_0", 0)
	if err != nil {
		return nil, err
	}

	var scale float64
	if _, ok := params["lat_ts"]; ok {
		latTS, err := floatParam(params, "lat_ts", lat0)
		if err != nil {
			return nil, err
		}
		scale = radius * (1 + math.Sin(radians(math.Abs(latTS))))
	} else {
		k0, err := floatParam(params, "k_0", 1)
		if err != nil {
			return nil, err
		}
		if k0, err = floatParam(params, "k", k0); err != nil {
			return nil, err
		}
		scale = 2 * radius * k0
	}

	south := lat0 < 0
	return func(lon, lat float64) (x, y float64, err error) {
		phi := radians(lat)
		if south {
			phi = -phi
		}
		if phi <= -math.Pi/2+1e-12 {
			return math.NaN(), math.NaN(), fmt.Errorf("stere: latitude %g is the opposite pole", lat)
		}
		rho := scale * math.Tan(math.Pi/4-phi/2)
		sinLam, cosLam := math.Sincos(radians(lon - lon0))
		if south {
			return x0 + rho*sinLam, y0 + rho*cosLam, nil
		}
		return x0 + rho*sinLam, y0 - rho*cosLam, nil
	}, nil
}

func radians(d float64) float64 { return d * math.Pi / 180 }

func degrees(r float64) float64 { return r * 180 / math.Pi }

func clampUnit(v float64) float64 { return math.Max(-1, math.Min(1, v)) }

// wrapLon folds a longitude into [-180, 180).
func wrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
