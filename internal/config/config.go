// Package config loads service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StreamURL        string
	SubscribePayload string
	WSOrigin         string
	WSUserAgent      string
	APIEndpoint      string

	// Products is the allow-list of product type codes, upper-cased at load
	// time. Matching in the dispatcher is exact.
	Products []string

	OutputRoot    string
	Workers       int
	QueueCapacity int

	ResolveTimeout time.Duration
	FetchTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Completion-record publishing. Enabled when KAFKA_BROKERS is set.
	KafkaBrokers []string
	KafkaTopic   string
}

// KafkaEnabled reports whether successful downloads should be published to
// Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// The DPC CDN rejects non-browser clients, so the default websocket handshake
// presents a browser-like identity.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cfg := &Config{
		StreamURL:        envOrDefault("RADAR_WS_URL", "wss://radar-wss.protezionecivile.it"),
		SubscribePayload: os.Getenv("RADAR_WS_SUBSCRIBE"),
		WSOrigin:         envOrDefault("RADAR_WS_ORIGIN", "https://radar.protezionecivile.it"),
		WSUserAgent:      envOrDefault("RADAR_WS_USER_AGENT", defaultUserAgent),
		APIEndpoint:      envOrDefault("RADAR_API_ENDPOINT", "https://radar-api-v2.protezionecivile.it/downloadProduct"),
		Products:         parseProducts(envOrDefault("RADAR_PRODUCTS", "VMI,SRI,TEMP")),
		OutputRoot:       envOrDefault("RADAR_OUTPUT_DIR", "./downloads"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		KafkaBrokers:     parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       envOrDefault("KAFKA_TOPIC", "radar-downloads"),
	}

	var err error
	if cfg.Workers, err = parsePositiveInt("WORKERS", 3); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity, err = parsePositiveInt("QUEUE_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.ResolveTimeout, err = parseDuration("RESOLVE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parseDuration("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = parseDuration("BACKOFF_BASE", time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffCap, err = parseDuration("BACKOFF_CAP", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = parseDuration("PING_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.PongTimeout, err = parseDuration("PONG_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.StreamURL == "" {
		return nil, errors.New("RADAR_WS_URL is required")
	}
	if cfg.APIEndpoint == "" {
		return nil, errors.New("RADAR_API_ENDPOINT is required")
	}
	if len(cfg.Products) == 0 {
		return nil, errors.New("RADAR_PRODUCTS must list at least one product type")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("RADAR_OUTPUT_DIR is required")
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		return nil, errors.New("BACKOFF_CAP must be at least BACKOFF_BASE")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseProducts splits the comma-separated allow-list, trimming and
// upper-casing each code. Case normalization happens here, once; the core
// comparison is exact.
func parseProducts(raw string) []string {
	var products []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			products = append(products, p)
		}
	}
	return products
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return n, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return d, nil
}
