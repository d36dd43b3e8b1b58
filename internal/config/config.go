package config

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mailkeep/mailkeep/internal/notify"
	"github.com/mailkeep/mailkeep/internal/rate"
	"github.com/mailkeep/mailkeep/internal/storage"
)

// StorageBackend enumerates supported persistence layers.
type StorageBackend string

const (
	// StorageBackendMemory keeps data in-process.
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendRedis persists data to Redis/KeyDB.
	StorageBackendRedis StorageBackend = "redis"
	// StorageBackendBolt persists data to a local BoltDB file.
	StorageBackendBolt StorageBackend = "bolt"
)

// Config aggregates runtime configuration.
type Config struct {
	APIAddr string
	Storage StorageConfig
	Archive ArchiveConfig
	Rate    rate.Config
	Notify  notify.Config
}

// StorageConfig contains backend selection and nested settings.
type StorageConfig struct {
	Backend  StorageBackend
	Redis    storage.RedisConfig
	BoltPath string
}

// ArchiveConfig holds quota, retention and classifier tunables.
type ArchiveConfig struct {
	MaxStorage             int64
	MaxEntries             int
	TextTTLSeconds         int64
	TierMultiplier         float64
	MaxAttachmentSize      int64
	TrackingPixelThreshold int64
	EvictSizeWeight        float64
	EvictAgeWeight         float64
	EvictSizeNorm          int64
}

// Retention maps the archive tunables onto the retention engine config.
func (a ArchiveConfig) Retention() storage.RetentionConfig {
	return storage.RetentionConfig{
		MaxStorage:     a.MaxStorage,
		MaxEntries:     a.MaxEntries,
		TextTTLSeconds: a.TextTTLSeconds,
		TierMultiplier: a.TierMultiplier,
		SizeWeight:     a.EvictSizeWeight,
		AgeWeight:      a.EvictAgeWeight,
		SizeNorm:       a.EvictSizeNorm,
	}
}

// Load reads configuration from environment variables.
func Load() Config {
	backend := StorageBackend(strings.ToLower(envDefault("STORAGE_BACKEND", string(StorageBackendMemory))))

	return Config{
		APIAddr: envDefault("API_ADDR", ":8080"),
		Storage: StorageConfig{
			Backend: backend,
			Redis: storage.RedisConfig{
				Addr:     os.Getenv("REDIS_ADDR"),
				Username: os.Getenv("REDIS_USERNAME"),
				Password: os.Getenv("REDIS_PASSWORD"),
				Database: envInt("REDIS_DB", 0),
			},
			BoltPath: envDefault("BOLT_PATH", "data/mailkeep.db"),
		},
		Archive: ArchiveConfig{
			MaxStorage:             envInt64("ARCHIVE_MAX_STORAGE", 100<<20),
			MaxEntries:             envInt("ARCHIVE_MAX_ENTRIES", 400),
			TextTTLSeconds:         envInt64("ARCHIVE_TEXT_TTL_SECONDS", 5184000),
			TierMultiplier:         envFloat("ARCHIVE_TIER_MULTIPLIER", 1.0),
			MaxAttachmentSize:      envInt64("ARCHIVE_MAX_ATTACHMENT_SIZE", 10<<20),
			TrackingPixelThreshold: envInt64("ARCHIVE_TRACKING_PIXEL_THRESHOLD", 4096),
			EvictSizeWeight:        envFloat("ARCHIVE_EVICT_SIZE_WEIGHT", 0.4),
			EvictAgeWeight:         envFloat("ARCHIVE_EVICT_AGE_WEIGHT", 0.6),
			EvictSizeNorm:          envInt64("ARCHIVE_EVICT_SIZE_NORM", 5<<20),
		},
		Rate: rate.Config{
			Window:    envDuration("RATE_WINDOW", 10*time.Minute),
			Threshold: envInt("RATE_THRESHOLD", 10),
		},
		Notify: notify.Config{
			BaseURL:     envDefault("NOTIFY_BASE_URL", "http://localhost:9090"),
			Channel:     os.Getenv("NOTIFY_CHANNEL"),
			MaxAttempts: envInt("NOTIFY_MAX_ATTEMPTS", 4),
		},
	}
}

// Overrides is the dynamic layer stored under config:overrides in the
// KV store. Only set fields replace the environment-derived values.
type Overrides struct {
	MaxStorage             *int64   `json:"maxStorage,omitempty"`
	MaxEntries             *int     `json:"maxEntries,omitempty"`
	TextTTLSeconds         *int64   `json:"textTtlSeconds,omitempty"`
	TierMultiplier         *float64 `json:"tierMultiplier,omitempty"`
	MaxAttachmentSize      *int64   `json:"maxAttachmentSize,omitempty"`
	TrackingPixelThreshold *int64   `json:"trackingPixelThreshold,omitempty"`
	RateWindowSeconds      *int64   `json:"rateWindowSeconds,omitempty"`
	RateThreshold          *int     `json:"rateThreshold,omitempty"`
}

// Resolve layers the KV override blob on top of the base config. It is
// called once per request; components receive the resolved struct and
// never read ambient state themselves. Read failures leave the base
// config in effect.
func Resolve(ctx context.Context, kv storage.KV, base Config) Config {
	raw, err := kv.Get(ctx, storage.OverridesKey)
	if err != nil {
		return base
	}
	var o Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return base
	}

	if o.MaxStorage != nil {
		base.Archive.MaxStorage = *o.MaxStorage
	}
	if o.MaxEntries != nil {
		base.Archive.MaxEntries = *o.MaxEntries
	}
	if o.TextTTLSeconds != nil {
		base.Archive.TextTTLSeconds = *o.TextTTLSeconds
	}
	if o.TierMultiplier != nil {
		base.Archive.TierMultiplier = *o.TierMultiplier
	}
	if o.MaxAttachmentSize != nil {
		base.Archive.MaxAttachmentSize = *o.MaxAttachmentSize
	}
	if o.TrackingPixelThreshold != nil {
		base.Archive.TrackingPixelThreshold = *o.TrackingPixelThreshold
	}
	if o.RateWindowSeconds != nil {
		base.Rate.Window = time.Duration(*o.RateWindowSeconds) * time.Second
	}
	if o.RateThreshold != nil {
		base.Rate.Threshold = *o.RateThreshold
	}
	return base
}

func envDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
