package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/micro-ha/follower-watch/internal/broker"
)

const (
	defaultEnvFile             = ".env"
	defaultHTTPAddr            = ":8099"
	defaultDBPath              = "/data/follower_watch.db"
	defaultMaintenanceInterval = 15 * time.Minute
	defaultAlertCooldown       = 15 * time.Minute
	defaultScoringWindow       = 6 * time.Hour
	defaultRetentionWindow     = 7 * 24 * time.Hour
	defaultMovementThreshold   = 50.0
	defaultDisappearAfter      = 10 * time.Second
	defaultLocationMaxAge      = 2 * time.Minute
	defaultMQTTClientID        = "follower-watch"
	defaultAlertTopic          = "follower/alerts/{device_id}"
	defaultObservationTopic    = "follower/observations"
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr            string
	DBPath              string
	LogLevel            slog.Level
	MaintenanceInterval time.Duration
	AlertCooldown       time.Duration
	ScoringWindow       time.Duration
	RetentionWindow     time.Duration
	MovementThresholdM  float64
	DisappearAfter      time.Duration
	LocationMaxAge      time.Duration
	MQTT                broker.Config
	AlertTopic          string
	ObservationTopic    string
	CapturePcap         string
}

// Load reads an optional .env file (ENV_FILE overrides the path) and then
// builds Config from the environment using stable defaults. Variables already
// set in the process win over the file.
func Load() Config {
	if err := godotenv.Load(getenv("ENV_FILE", defaultEnvFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("env file ignored", "err", err)
	}
	return Config{
		HTTPAddr:            getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:              getenv("DB_PATH", defaultDBPath),
		LogLevel:            parseLogLevel(getenv("LOG_LEVEL", "info")),
		MaintenanceInterval: parseDuration("MAINTENANCE_INTERVAL", defaultMaintenanceInterval),
		AlertCooldown:       parseDuration("ALERT_COOLDOWN", defaultAlertCooldown),
		ScoringWindow:       parseDuration("SCORING_WINDOW", defaultScoringWindow),
		RetentionWindow:     parseDuration("RETENTION_WINDOW", defaultRetentionWindow),
		MovementThresholdM:  parseFloat("MOVEMENT_THRESHOLD_METERS", defaultMovementThreshold),
		DisappearAfter:      parseDuration("DISAPPEAR_AFTER", defaultDisappearAfter),
		LocationMaxAge:      parseDuration("LOCATION_MAX_AGE", defaultLocationMaxAge),
		MQTT: broker.Config{
			Broker:   getenv("MQTT_BROKER", ""),
			ClientID: getenv("MQTT_CLIENT_ID", defaultMQTTClientID),
			Username: getenv("MQTT_USERNAME", ""),
			Password: getenv("MQTT_PASSWORD", ""),
		},
		AlertTopic:       getenv("MQTT_ALERT_TOPIC", defaultAlertTopic),
		ObservationTopic: getenv("MQTT_OBSERVATION_TOPIC", defaultObservationTopic),
		CapturePcap:      getenv("CAPTURE_PCAP", ""),
	}
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
