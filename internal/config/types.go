package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Cache is the Redis-backed schedule/cool-off cache.
	Cache CacheConfig `json:"cache"`

	// Storage is the SQLite record store (events, pings, webhooks, entities).
	Storage StorageConfig `json:"storage"`

	// Upstream is the audit API that owns raw notifications and rosters.
	Upstream UpstreamConfig `json:"upstream"`

	Pinger   PingerConfig    `json:"pinger"`
	Engine   EngineConfig    `json:"engine,omitempty"`
	Delivery DeliveryConfig  `json:"delivery,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	// Addr is a host:port or a redis:// / rediss:// URL.
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// KeyPrefix defaults to "pinger".
	KeyPrefix string `json:"key_prefix,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type UpstreamConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	// Timeout is a Go duration string for a single HTTP call.
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec / Burst bound outbound calls to the audit API.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
}

// PingerConfig controls the polling scheduler and fanout engine.
//
// All durations are Go duration strings (e.g. "10m", "96h").
//
// Defaults (when fields are omitted/zero):
//   - window: "10m"
//   - bootstrap_interval: "10m"
//   - stale_after: "11m" (must stay > window; the 1 minute buffer guards
//     against the cache entry expiring right before the sweep re-checks it)
//   - dedup_window: "96h"
type PingerConfig struct {
	Window            string `json:"window,omitempty"`
	BootstrapInterval string `json:"bootstrap_interval,omitempty"`
	StaleAfter        string `json:"stale_after,omitempty"`
	DedupWindow       string `json:"dedup_window,omitempty"`

	// CorporationLimiter / AllianceLimiter narrow the tracked roster.
	// Empty means "every corporation the upstream audit reports".
	CorporationLimiter []int64 `json:"corporation_limiter,omitempty"`
	AllianceLimiter    []int64 `json:"alliance_limiter,omitempty"`
}

// EngineConfig controls the task execution engine.
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// DeliveryConfig controls webhook delivery.
//
// RateMargin is the safety margin added on top of server-supplied
// retry-after durations (default "150ms").
type DeliveryConfig struct {
	Timeout       string `json:"timeout,omitempty"`
	RateMargin    string `json:"rate_margin,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9190"
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
