package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// BestLeadTime selects the smallest accessible lead time for each valid date.
const BestLeadTime = "best"

// Observation sources selectable with OBS_SOURCE.
const (
	ObsSourceTrack   = "track"
	ObsSourceStation = "station"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	CatalogPath string

	// Collocation target.
	Model            string
	Variable         string
	Region           string
	ObsPattern       string
	ObsVariable      string
	ObsPlatform      string
	MaskObservations bool

	// ObsSource is "track" for along-track files or "station" for a fixed
	// station time series placed at StationLat/StationLon.
	ObsSource  string
	StationLat float64
	StationLon float64

	// Date range. A zero StartDate selects operational mode: the run covers the
	// most recent DateIncrement-aligned valid date.
	StartDate     time.Time
	EndDate       time.Time
	DateIncrement time.Duration

	LeadTime        string
	MaxLeadTime     int
	DistanceLimitKm float64
	TimeWindow      time.Duration
	GridCacheSize   int
	Workers         int

	ScheduleInterval time.Duration

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	startDate, err := parseDate("START_DATE")
	if err != nil {
		return nil, err
	}
	endDate, err := parseDate("END_DATE")
	if err != nil {
		return nil, err
	}
	if endDate.IsZero() {
		endDate = startDate
	}

	dateIncrement, err := parsePositiveDuration("DATE_INCREMENT", "1h")
	if err != nil {
		return nil, err
	}
	timeWindow, err := parseDuration("TIME_WINDOW", "30m")
	if err != nil {
		return nil, err
	}
	scheduleInterval, err := parseDuration("SCHEDULE_INTERVAL", "0s")
	if err != nil {
		return nil, err
	}

	leadTime := strings.ToLower(sharedcfg.EnvOrDefault("LEAD_TIME", BestLeadTime))
	if leadTime != BestLeadTime {
		if n, err := strconv.Atoi(leadTime); err != nil || n < 0 {
			return nil, errors.New(`invalid LEAD_TIME: must be "best" or a non-negative number of hours`)
		}
	}

	maxLeadTime, err := parseNonNegativeInt("MAX_LEAD_TIME", 0)
	if err != nil {
		return nil, err
	}

	distanceLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("DISTANCE_LIMIT_KM", "6"), 64)
	if err != nil || distanceLimit <= 0 {
		return nil, errors.New("invalid DISTANCE_LIMIT_KM: must be a positive number")
	}

	obsSource := strings.ToLower(sharedcfg.EnvOrDefault("OBS_SOURCE", ObsSourceTrack))
	var stationLat, stationLon float64
	switch obsSource {
	case ObsSourceTrack:
	case ObsSourceStation:
		if stationLat, err = parseCoordinate("OBS_STATION_LAT", 90); err != nil {
			return nil, err
		}
		if stationLon, err = parseCoordinate("OBS_STATION_LON", 180); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid OBS_SOURCE %q: must be %q or %q", obsSource, ObsSourceTrack, ObsSourceStation)
	}

	kafkaEnabled := os.Getenv("KAFKA_ENABLED") == "true"

	cfg := &Config{
		CatalogPath:      sharedcfg.EnvOrDefault("CATALOG_PATH", "configs/catalog.yaml"),
		Model:            sharedcfg.EnvOrDefault("MODEL", "mwam4"),
		Variable:         sharedcfg.EnvOrDefault("VARIABLE", "Hs"),
		Region:           sharedcfg.EnvOrDefault("REGION", "global"),
		ObsPattern:       sharedcfg.EnvOrDefault("OBS_PATTERN", "data/obs/*.nc"),
		ObsVariable:      sharedcfg.EnvOrDefault("OBS_VARIABLE", "Hs"),
		ObsPlatform:      sharedcfg.EnvOrDefault("OBS_PLATFORM", "s3a"),
		MaskObservations: sharedcfg.EnvOrDefault("MASK_OBSERVATIONS", "true") == "true",
		ObsSource:        obsSource,
		StationLat:       stationLat,
		StationLon:       stationLon,
		StartDate:        startDate,
		EndDate:          endDate,
		DateIncrement:    dateIncrement,
		LeadTime:         leadTime,
		MaxLeadTime:      maxLeadTime,
		DistanceLimitKm:  distanceLimit,
		TimeWindow:       timeWindow,
		GridCacheSize:    parseGridCacheSize(),
		Workers:          parseWorkers(),
		ScheduleInterval: scheduleInterval,
		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "collocated-matches"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
	}

	if !cfg.EndDate.IsZero() && cfg.EndDate.Before(cfg.StartDate) {
		return nil, errors.New("END_DATE must not be before START_DATE")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// LeadTimeHours returns the fixed lead time in hours, or ok=false when the
// best-guess lead time is configured.
func (c *Config) LeadTimeHours() (hours int, ok bool) {
	if c.LeadTime == BestLeadTime {
		return 0, false
	}
	n, err := strconv.Atoi(c.LeadTime)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Operational reports whether the run targets the most recent valid date
// rather than a fixed date range.
func (c *Config) Operational() bool {
	return c.StartDate.IsZero()
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15", "2006-01-02", "2006010215"}

func parseDate(key string) (time.Time, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s: %q", key, s)
}

// parseCoordinate reads a required coordinate in degrees bounded by ±limit.
func parseCoordinate(key string, limit float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is required when OBS_SOURCE is %q", key, ObsSourceStation)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < -limit || v > limit {
		return 0, fmt.Errorf("invalid %s: must be a number between %g and %g", key, -limit, limit)
	}
	return v, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := parseDuration(key, def)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", key)
	}
	return n, nil
}

func parseGridCacheSize() int {
	if s := os.Getenv("GRID_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 32
}

func parseWorkers() int {
	if s := os.Getenv("WORKERS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
