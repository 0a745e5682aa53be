// Package config reads runtime settings from the environment, after an
// optional .env file has been loaded.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"latencyd/src/latency"
	"latencyd/src/logging"

	"github.com/joho/godotenv"
)

// Config holds every knob the service reads at startup.
type Config struct {
	Port               string
	BehindProxy        bool
	AppEnv             string
	LogLevel           string
	WindowCapacity     int
	RateLimitRPS       int
	ExerciseConfigPath string
	TaskWorkers        int
	TaskQueueSize      int
	PushInterval       time.Duration
}

// Load reads .env if present (missing file is not an error) and then the
// process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		Port:               getenv("PORT", "8080"),
		BehindProxy:        getBool("BEHIND_PROXY", false),
		AppEnv:             os.Getenv("APP_ENV"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		WindowCapacity:     getInt("WINDOW_CAPACITY", latency.DefaultCapacity),
		RateLimitRPS:       getInt("RATE_LIMIT_RPS", 0),
		ExerciseConfigPath: getenv("EXERCISE_CONFIG_PATH", "configs/exercise_config.csv"),
		TaskWorkers:        getInt("TASK_WORKERS", 4),
		TaskQueueSize:      getInt("TASK_QUEUE_SIZE", 128),
		PushInterval:       getDuration("METRICS_PUSH_INTERVAL", time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := getenv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.Log.WithField("key", key).Warnf("invalid boolean %q, using %v", v, fallback)
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := getenv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logging.Log.WithField("key", key).Warnf("invalid integer %q, using %d", v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logging.Log.WithField("key", key).Warnf("invalid duration %q, using %s", v, fallback)
		return fallback
	}
	return d
}
