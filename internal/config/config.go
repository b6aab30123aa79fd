package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

// Poll interval and page size limits.
const (
	MinPollInterval = 30 * time.Second
	MaxPollInterval = time.Hour
	MaxPageSize     = 8000
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	StorageBackend        string
	MongoURI              string
	MongoDatabase         string
	MongoCollection       string
	MongoCursorCollection string

	// ThingSpeak feed configuration.
	ThingSpeakBaseURL        string
	ThingSpeakChannelID      string
	ThingSpeakReadAPIKey     string
	ThingSpeakWriteAPIKey    string
	ThingSpeakTimeout        time.Duration
	ThingSpeakDeviceID       string
	ThingSpeakForwardEnabled bool

	PollerEnabled  bool
	PollerInterval time.Duration
	PollerPageSize int

	IoTAPIKey string

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// Analytics response cache. An empty RedisAddr selects the in-process cache.
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	AnalyticsCacheTTL  time.Duration
	AnalyticsCacheSize int

	OTLPEndpoint string
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	tsTimeout, err := parseDuration("THINGSPEAK_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("POLLER_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	if pollInterval < MinPollInterval || pollInterval > MaxPollInterval {
		return nil, fmt.Errorf("POLLER_INTERVAL must be between %s and %s", MinPollInterval, MaxPollInterval)
	}
	pageSize, err := parseInt("POLLER_PAGE_SIZE", 100, 1, MaxPageSize)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("ANALYTICS_CACHE_TTL", "30s")
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("ANALYTICS_CACHE_SIZE", 256, 1, 1<<20)
	if err != nil {
		return nil, err
	}
	redisDB, err := parseInt("REDIS_DB", 0, 0, 15)
	if err != nil {
		return nil, err
	}
	forward, err := parseBool("THINGSPEAK_FORWARD_ENABLED", false)
	if err != nil {
		return nil, err
	}
	pollerEnabled, err := parseBool("POLLER_ENABLED", false)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StorageBackend:        sharedcfg.EnvOrDefault("STORAGE_BACKEND", StorageMongo),
		MongoURI:              sharedcfg.EnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:         sharedcfg.EnvOrDefault("MONGODB_DATABASE", "smart_bus_stop"),
		MongoCollection:       sharedcfg.EnvOrDefault("MONGODB_COLLECTION", "sensor_readings"),
		MongoCursorCollection: sharedcfg.EnvOrDefault("MONGODB_CURSOR_COLLECTION", "thingspeak_consumer_state"),

		ThingSpeakBaseURL:        sharedcfg.EnvOrDefault("THINGSPEAK_BASE_URL", "https://api.thingspeak.com"),
		ThingSpeakChannelID:      os.Getenv("THINGSPEAK_CHANNEL_ID"),
		ThingSpeakReadAPIKey:     os.Getenv("THINGSPEAK_READ_API_KEY"),
		ThingSpeakWriteAPIKey:    os.Getenv("THINGSPEAK_WRITE_API_KEY"),
		ThingSpeakTimeout:        tsTimeout,
		ThingSpeakDeviceID:       sharedcfg.EnvOrDefault("THINGSPEAK_DEVICE_ID", "thingspeak"),
		ThingSpeakForwardEnabled: forward,

		PollerEnabled:  pollerEnabled,
		PollerInterval: pollInterval,
		PollerPageSize: pageSize,

		IoTAPIKey: os.Getenv("IOT_API_KEY"),

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "processed-readings"),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            redisDB,
		AnalyticsCacheTTL:  cacheTTL,
		AnalyticsCacheSize: cacheSize,

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.StorageBackend != StorageMongo && cfg.StorageBackend != StorageMemory {
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q", StorageMongo, StorageMemory)
	}
	if cfg.StorageBackend == StorageMongo && cfg.MongoURI == "" {
		return nil, errors.New("MONGODB_URI is required")
	}
	if cfg.PollerEnabled && cfg.ThingSpeakChannelID == "" {
		return nil, errors.New("POLLER_ENABLED is true but THINGSPEAK_CHANNEL_ID is not set")
	}
	if cfg.ThingSpeakForwardEnabled && cfg.ThingSpeakWriteAPIKey == "" {
		return nil, errors.New("THINGSPEAK_FORWARD_ENABLED is true but THINGSPEAK_WRITE_API_KEY is not set")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, minVal, maxVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minVal || n > maxVal {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, minVal, maxVal)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}
