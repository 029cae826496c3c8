package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, loaded once at startup and passed
// into constructors. Nothing reads the environment after Load returns.
type Config struct {
	Addr        string
	DatabaseURL string

	// CronSecret authenticates the external dispatch trigger.
	CronSecret string

	// AdapterTokenSecret signs the service tokens presented to adapter
	// endpoints. Empty disables adapter-boundary auth (dev only).
	AdapterTokenSecret string

	// AdapterEndpoints maps platform id to a remote adapter URL. Platforms
	// without an entry fall back to the built-in local adapter.
	AdapterEndpoints map[string]string

	// ConnectedPlatforms marks which platforms count as connected for
	// admission. Empty means all catalog platforms.
	ConnectedPlatforms []string

	DispatchTimeout     time.Duration
	AdvanceInterval     time.Duration
	DispatchConcurrency int
	ApproveDelay        time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string
}

const (
	defaultAddr            = ":8070"
	defaultDispatchTimeout = 15 * time.Second
	defaultAdvanceInterval = 30 * time.Minute
	defaultConcurrency     = 4
	defaultApproveDelay    = time.Minute
	defaultKafkaTopic      = "autopost.dispatch-results"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                getEnv("AUTOPOST_ADDR", defaultAddr),
		DatabaseURL:         firstNonEmpty(os.Getenv("AUTOPOST_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		CronSecret:          os.Getenv("AUTOPOST_CRON_SECRET"),
		AdapterTokenSecret:  os.Getenv("AUTOPOST_ADAPTER_TOKEN_SECRET"),
		AdapterEndpoints:    parseEndpoints(os.Getenv("AUTOPOST_ADAPTER_ENDPOINTS")),
		ConnectedPlatforms:  splitList(os.Getenv("AUTOPOST_CONNECTED_PLATFORMS")),
		DispatchTimeout:     getDuration("AUTOPOST_DISPATCH_TIMEOUT", defaultDispatchTimeout),
		AdvanceInterval:     getDuration("AUTOPOST_ADVANCE_INTERVAL", defaultAdvanceInterval),
		DispatchConcurrency: getInt("AUTOPOST_DISPATCH_CONCURRENCY", defaultConcurrency),
		ApproveDelay:        getDuration("AUTOPOST_APPROVE_DELAY", defaultApproveDelay),
		KafkaBrokers:        splitList(os.Getenv("AUTOPOST_KAFKA_BROKERS")),
		KafkaTopic:          getEnv("AUTOPOST_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:            os.Getenv("AUTOPOST_S3_BUCKET"),
		S3Prefix:            os.Getenv("AUTOPOST_S3_PREFIX"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or AUTOPOST_DATABASE_URL required")
	}
	if cfg.CronSecret == "" {
		return Config{}, fmt.Errorf("AUTOPOST_CRON_SECRET required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseEndpoints parses "platform=url,platform=url" pairs.
func parseEndpoints(v string) map[string]string {
	out := map[string]string{}
	for _, part := range splitList(v) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
