package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Warehouse drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Paths     Paths
	Location  *time.Location // local timezone of the trip data
	Weather   WeatherConfig
	Train     TrainConfig
	Warehouse WarehouseConfig
	Kafka     KafkaConfig

	PushgatewayURL  string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Paths locates every file the stages read or write.
type Paths struct {
	Raw       string
	Processed string
	Enriched  string
	Model     string
	Metrics   string
}

// WeatherConfig configures the hourly weather archive client and its caches.
type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timeout   time.Duration
	CacheSize int // in-process LRU entries; 0 disables

	RedisURL string // empty disables the shared cache
	CacheTTL time.Duration
}

// TrainConfig configures sampling and the regression forest.
type TrainConfig struct {
	SampleCap int
	Seed      uint64
	Trees     int
	Workers   int
}

// WarehouseConfig configures the replace-load target.
type WarehouseConfig struct {
	Driver        string
	DSN           string
	Table         string
	ChunkSize     int
	Transactional bool
}

// KafkaConfig configures the optional publish stage.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	tz := sharedcfg.EnvOrDefault("TRIP_TIMEZONE", "America/New_York")
	if tz == "" || tz == "Local" {
		// The weather archive needs an IANA name to align its hours.
		return nil, fmt.Errorf("invalid TRIP_TIMEZONE %q: must be an IANA zone name", tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TRIP_TIMEZONE: %w", err)
	}

	weather, err := loadWeather()
	if err != nil {
		return nil, err
	}
	train, err := loadTrain()
	if err != nil {
		return nil, err
	}
	warehouse, err := loadWarehouse()
	if err != nil {
		return nil, err
	}
	kafka, err := loadKafka()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Paths: Paths{
			Raw:       sharedcfg.EnvOrDefault("RAW_DATA_PATH", "data/raw/train.csv"),
			Processed: sharedcfg.EnvOrDefault("PROCESSED_DATA_PATH", "data/processed/cleaned_taxi_data.csv"),
			Enriched:  sharedcfg.EnvOrDefault("ENRICHED_DATA_PATH", "data/processed/enriched_taxi_data.csv"),
			Model:     sharedcfg.EnvOrDefault("MODEL_PATH", "models/trip_duration_model.json.zst"),
			Metrics:   sharedcfg.EnvOrDefault("METRICS_PATH", "models/model_metrics.txt"),
		},
		Location:        loc,
		Weather:         weather,
		Train:           train,
		Warehouse:       warehouse,
		Kafka:           kafka,
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.Paths.Raw == "" || cfg.Paths.Processed == "" || cfg.Paths.Enriched == "" {
		return nil, errors.New("RAW_DATA_PATH, PROCESSED_DATA_PATH and ENRICHED_DATA_PATH must not be empty")
	}

	return cfg, nil
}

func loadWeather() (WeatherConfig, error) {
	lat, err := parseFloat("WEATHER_LATITUDE", "40.7128")
	if err != nil {
		return WeatherConfig{}, err
	}
	if lat < -90 || lat > 90 {
		return WeatherConfig{}, errors.New("WEATHER_LATITUDE must be within [-90, 90]")
	}
	lon, err := parseFloat("WEATHER_LONGITUDE", "-74.0060")
	if err != nil {
		return WeatherConfig{}, err
	}
	if lon < -180 || lon > 180 {
		return WeatherConfig{}, errors.New("WEATHER_LONGITUDE must be within [-180, 180]")
	}

	timeout, err := parsePositiveDuration("WEATHER_TIMEOUT", "60s")
	if err != nil {
		return WeatherConfig{}, err
	}
	ttl, err := parsePositiveDuration("WEATHER_CACHE_TTL", "720h")
	if err != nil {
		return WeatherConfig{}, err
	}
	cacheSize, err := parseInt("WEATHER_CACHE_SIZE", "16", 0)
	if err != nil {
		return WeatherConfig{}, err
	}

	return WeatherConfig{
		BaseURL:   sharedcfg.EnvOrDefault("WEATHER_BASE_URL", "https://archive-api.open-meteo.com/v1/archive"),
		Latitude:  lat,
		Longitude: lon,
		Timeout:   timeout,
		CacheSize: cacheSize,
		RedisURL:  os.Getenv("REDIS_URL"),
		CacheTTL:  ttl,
	}, nil
}

func loadTrain() (TrainConfig, error) {
	sampleCap, err := parseInt("TRAIN_SAMPLE_CAP", "500000", 1)
	if err != nil {
		return TrainConfig{}, err
	}
	trees, err := parseInt("TRAIN_TREES", "100", 1)
	if err != nil {
		return TrainConfig{}, err
	}
	workers, err := parseInt("TRAIN_WORKERS", strconv.Itoa(runtime.NumCPU()), 1)
	if err != nil {
		return TrainConfig{}, err
	}
	seed, err := strconv.ParseUint(sharedcfg.EnvOrDefault("TRAIN_SEED", "42"), 10, 64)
	if err != nil {
		return TrainConfig{}, errors.New("invalid TRAIN_SEED")
	}
	return TrainConfig{SampleCap: sampleCap, Seed: seed, Trees: trees, Workers: workers}, nil
}

func loadWarehouse() (WarehouseConfig, error) {
	driver := sharedcfg.EnvOrDefault("WAREHOUSE_DRIVER", DriverPostgres)
	if driver != DriverPostgres && driver != DriverSQLite {
		return WarehouseConfig{}, fmt.Errorf("WAREHOUSE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}

	table := sharedcfg.EnvOrDefault("WAREHOUSE_TABLE", "taxi_trips")
	if !identifierRE.MatchString(table) {
		return WarehouseConfig{}, fmt.Errorf("WAREHOUSE_TABLE %q is not a valid identifier", table)
	}

	chunkSize, err := parseInt("WAREHOUSE_CHUNK_SIZE", "50000", 1)
	if err != nil {
		return WarehouseConfig{}, err
	}

	transactional, err := strconv.ParseBool(sharedcfg.EnvOrDefault("WAREHOUSE_TRANSACTIONAL", "true"))
	if err != nil {
		return WarehouseConfig{}, errors.New("invalid WAREHOUSE_TRANSACTIONAL")
	}

	dsn := os.Getenv("WAREHOUSE_DSN")
	if dsn == "" {
		if driver == DriverSQLite {
			dsn = "data/warehouse.db"
		} else {
			dsn = postgresDSN()
		}
	}

	return WarehouseConfig{
		Driver:        driver,
		DSN:           dsn,
		Table:         table,
		ChunkSize:     chunkSize,
		Transactional: transactional,
	}, nil
}

// postgresDSN assembles a connection URL from the discrete POSTGRES_* variables.
func postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			sharedcfg.EnvOrDefault("POSTGRES_USER", "airflow"),
			sharedcfg.EnvOrDefault("POSTGRES_PASSWORD", "airflow"),
		),
		Host: net.JoinHostPort(
			sharedcfg.EnvOrDefault("POSTGRES_HOST", "postgres"),
			sharedcfg.EnvOrDefault("POSTGRES_PORT", "5432"),
		),
		Path:     "/" + sharedcfg.EnvOrDefault("POSTGRES_DB", "airflow"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func loadKafka() (KafkaConfig, error) {
	enabled, err := strconv.ParseBool(sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false"))
	if err != nil {
		return KafkaConfig{}, errors.New("invalid KAFKA_ENABLED")
	}
	cfg := KafkaConfig{
		Enabled: enabled,
		Brokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		Topic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "enriched-taxi-trips"),
	}
	if cfg.Enabled && len(cfg.Brokers) == 0 {
		return KafkaConfig{}, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.Enabled && cfg.Topic == "" {
		return KafkaConfig{}, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}
	return cfg, nil
}

func parseFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseInt(key, def string, minimum int) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
