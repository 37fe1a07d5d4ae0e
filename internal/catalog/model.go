package catalog

import "time"

// Model describes where a wave model writes its output and how its runs are
// scheduled.
type Model struct {
	Name string `yaml:"-"`

	// PathTemplate is a text/template rendered with the run's init time,
	// valid time and lead time to produce the output file path.
	PathTemplate string `yaml:"path_template" validate:"required"`

	// InitTimes are the permissible initialization hours of the day (UTC).
	InitTimes []int `yaml:"init_times" validate:"omitempty,dive,gte=0,lte=23"`

	// InitStep is the number of hours between consecutive model runs.
	InitStep int `yaml:"init_step" validate:"gte=0"`

	// MaxLeadTime bounds best-guess file searches when the caller gives no
	// limit. Zero leaves the search unbounded.
	MaxLeadTime int `yaml:"max_lead_time" validate:"gte=0"`

	// GridDate is a date known to have output, used when the grid outline is
	// needed and no file exists for the requested date.
	GridDate *time.Time `yaml:"grid_date"`

	// Proj4 is the grid's map projection, used when the files carry none.
	Proj4 string `yaml:"proj4"`

	Coords    Coords              `yaml:"coords"`
	Variables map[string]Variable `yaml:"vars" validate:"dive"`
}

// Coords names the coordinate variables in the model files.
type Coords struct {
	Lons string `yaml:"lons"`
	Lats string `yaml:"lats"`
	Time string `yaml:"time"`
}

// Variable maps a variable alias to its name in the model files. Components,
// when set, are combined as the root of the sum of squares (e.g. wind speed
// from u and v).
type Variable struct {
	Name       string   `yaml:"name"`
	Components []string `yaml:"components" validate:"omitempty,min=2"`
}

// FileVariable returns the file variable for alias, falling back to alias
// itself when the catalog has no mapping.
func (m *Model) FileVariable(alias string) Variable {
	if v, ok := m.Variables[alias]; ok {
		if v.Name == "" && len(v.Components) == 0 {
			v.Name = alias
		}
		return v
	}
	return Variable{Name: alias}
}

func (m *Model) applyDefaults() {
	if len(m.InitTimes) == 0 {
		// Continuous simulation with hourly output.
		m.InitTimes = make([]int, 24)
		for h := range m.InitTimes {
			m.InitTimes[h] = h
		}
		if m.InitStep == 0 {
			m.InitStep = 1
		}
	}
	if m.InitStep == 0 {
		m.InitStep = defaultInitStep(m.InitTimes)
	}
	if m.Coords.Lons == "" {
		m.Coords.Lons = "longitude"
	}
	if m.Coords.Lats == "" {
		m.Coords.Lats = "latitude"
	}
	if m.Coords.Time == "" {
		m.Coords.Time = "time"
	}
}

// defaultInitStep returns the smallest gap between sorted init hours, or 24
// for a single daily run.
func defaultInitStep(initTimes []int) int {
	step := 24
	for i := range initTimes {
		for j := range initTimes {
			if d := initTimes[j] - initTimes[i]; d > 0 && d < step {
				step = d
			}
		}
	}
	return step
}
