package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Parse reads and strictly decodes the config file at path.
//
// Both JSON and YAML are accepted; YAML is coerced to JSON so the same strict
// decoder (DisallowUnknownFields) applies to both formats.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// ---- Duration fields ----

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate rejects configs that cannot be mapped into running services.
//
// It is called both on startup and before committing a hot reload, so a bad
// edit never reaches a running component.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(cfg.Cache.Addr) == "" {
		return fmt.Errorf("cache.addr is required")
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if cfg.Upstream.RatePerSec < 0 {
		return fmt.Errorf("upstream.rate_per_sec must be >= 0")
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must be >= 0")
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"upstream.timeout":          cfg.Upstream.Timeout,
		"pinger.window":             cfg.Pinger.Window,
		"pinger.bootstrap_interval": cfg.Pinger.BootstrapInterval,
		"pinger.stale_after":        cfg.Pinger.StaleAfter,
		"pinger.dedup_window":       cfg.Pinger.DedupWindow,
		"delivery.timeout":          cfg.Delivery.Timeout,
		"delivery.rate_margin":      cfg.Delivery.RateMargin,
		"delivery.sweep_interval":   cfg.Delivery.SweepInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when telegram.enabled")
		}
		if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
	}

	window, err := ParseDurationOrDefault("pinger.window", cfg.Pinger.Window, DefaultWindow)
	if err != nil {
		return err
	}
	stale, err := ParseDurationOrDefault("pinger.stale_after", cfg.Pinger.StaleAfter, DefaultStaleAfter)
	if err != nil {
		return err
	}
	// The stale threshold must trail the cache TTL; without the buffer a
	// schedule entry can expire between expiry and the next sweep check.
	if stale <= window {
		return fmt.Errorf("pinger.stale_after (%s) must be greater than pinger.window (%s)", stale, window)
	}
	return nil
}

// Defaults shared between config validation and service mapping.
const (
	DefaultWindow            = 10 * time.Minute
	DefaultBootstrapInterval = 10 * time.Minute
	DefaultStaleAfter        = 11 * time.Minute
	DefaultDedupWindow       = 96 * time.Hour
	DefaultRateMargin        = 150 * time.Millisecond
	DefaultDeliveryTimeout   = 30 * time.Second
	DefaultSweepInterval     = 15 * time.Minute
	DefaultUpstreamTimeout   = 60 * time.Second
)
