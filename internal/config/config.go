// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"forward-proxy-go/internal/policy"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/forward-proxy/config.toml",
	"configs/config.toml",
}

// TLS verification modes.
const (
	TLSStrict     = "strict"
	TLSPermissive = "permissive"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	HeaderProfile   string `kong:"help='Inbound header profile: allowlist|denylist (overrides config).',env='HEADER_PROFILE'"`
	TLSVerification string `kong:"name='tls-verification',help='Upstream certificate validation: strict|permissive (overrides config).',env='TLS_VERIFICATION'"`
	Timeout         int    `kong:"help='Upstream timeout in seconds (overrides config).',env='UPSTREAM_TIMEOUT'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Envelope EnvelopeConfig `toml:"envelope"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (9000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the proxying policy. Boolean switches whose default is
// "on" are pointers so that an omitted key can be told apart from false.
type ProxyConfig struct {
	HeaderProfile        string `toml:"header_profile"`
	TLSVerification      string `toml:"tls_verification"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	CacheBusting         *bool  `toml:"cache_busting"`
	ForceConnectionClose *bool  `toml:"force_connection_close"`
	NoStore              *bool  `toml:"no_store"`
	SyntheticUserAgent   bool   `toml:"synthetic_user_agent"`
	DebugHeaders         bool   `toml:"debug_headers"`
}

// EnvelopeConfig controls the synchronous JSON-envelope endpoint.
type EnvelopeConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	SoftLimitBytes int64  `toml:"soft_limit_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// reservedPaths are routes owned by the proxy itself.
var reservedPaths = []string{"/", "/proxy", "/healthz", "/health", "/proxy/status"}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/forward-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.HeaderProfile != "" {
		c.Proxy.HeaderProfile = cli.HeaderProfile
	}
	if cli.TLSVerification != "" {
		c.Proxy.TLSVerification = cli.TLSVerification
	}
	if cli.Timeout != 0 {
		c.Proxy.TimeoutSeconds = cli.Timeout
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Proxy.TimeoutSeconds < 0 {
		return fmt.Errorf("proxy.timeout_seconds must be non-negative; got %d", c.Proxy.TimeoutSeconds)
	}
	if c.Envelope.MaxBodyBytes < 0 || c.Envelope.SoftLimitBytes < 0 {
		return fmt.Errorf("envelope body limits must be non-negative; got max=%d soft=%d", c.Envelope.MaxBodyBytes, c.Envelope.SoftLimitBytes)
	}
	if c.Envelope.MaxBodyBytes > 0 && c.Envelope.SoftLimitBytes > c.Envelope.MaxBodyBytes {
		return fmt.Errorf("envelope.soft_limit_bytes (%d) exceeds envelope.max_body_bytes (%d)", c.Envelope.SoftLimitBytes, c.Envelope.MaxBodyBytes)
	}

	// Proxy policy.
	if _, err := policy.ParseProfile(c.Proxy.HeaderProfile); err != nil {
		return fmt.Errorf("proxy.header_profile: %w", err)
	}
	switch strings.ToLower(c.Proxy.TLSVerification) {
	case TLSStrict, TLSPermissive, "":
		// valid
	default:
		return fmt.Errorf("proxy.tls_verification must be one of: strict, permissive; got %q", c.Proxy.TLSVerification)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Route paths must not shadow each other.
	if err := validateRoutePath("metrics.path", c.Metrics.Enabled, c.Metrics.Path); err != nil {
		return err
	}
	if err := validateRoutePath("envelope.path", c.Envelope.Enabled, c.Envelope.Path); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Envelope.Enabled && c.Metrics.Path != "" && c.Metrics.Path == c.Envelope.Path {
		return fmt.Errorf("metrics.path and envelope.path must differ; both are %q", c.Metrics.Path)
	}

	return nil
}

func validateRoutePath(field string, enabled bool, p string) error {
	if !enabled || p == "" {
		return nil
	}
	if p[0] != '/' {
		return fmt.Errorf("%s must start with '/'; got %q", field, p)
	}
	for _, reserved := range reservedPaths {
		if p == reserved {
			return fmt.Errorf("%s %q conflicts with reserved route %q", field, p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.HeaderProfile == "" {
		c.Proxy.HeaderProfile = string(policy.ProfileDenyList)
	}
	c.Proxy.HeaderProfile = strings.ToLower(c.Proxy.HeaderProfile)
	if c.Proxy.TLSVerification == "" {
		c.Proxy.TLSVerification = TLSStrict
	}
	c.Proxy.TLSVerification = strings.ToLower(c.Proxy.TLSVerification)
	if c.Proxy.TimeoutSeconds == 0 {
		c.Proxy.TimeoutSeconds = 30
	}
	if c.Proxy.CacheBusting == nil {
		c.Proxy.CacheBusting = boolPtr(true)
	}
	if c.Proxy.ForceConnectionClose == nil {
		c.Proxy.ForceConnectionClose = boolPtr(true)
	}
	if c.Proxy.NoStore == nil {
		c.Proxy.NoStore = boolPtr(true)
	}
	if c.Envelope.Path == "" {
		c.Envelope.Path = "/invoke"
	}
	if c.Envelope.MaxBodyBytes == 0 {
		c.Envelope.MaxBodyBytes = 6 * 1024 * 1024 // common serverless payload ceiling
	}
	if c.Envelope.SoftLimitBytes == 0 {
		c.Envelope.SoftLimitBytes = c.Envelope.MaxBodyBytes * 3 / 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func boolPtr(b bool) *bool { return &b }

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the upstream timeout.
func (c *ProxyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Permissive reports whether upstream certificate validation is disabled.
func (c *ProxyConfig) Permissive() bool {
	return c.TLSVerification == TLSPermissive
}

// Policy returns the header policy described by the config.
// Nil switches are treated as their defaults so hand-built configs behave.
func (c *ProxyConfig) Policy() policy.Policy {
	profile, _ := policy.ParseProfile(c.HeaderProfile)
	return policy.Policy{
		Profile:              profile,
		ForceConnectionClose: enabled(c.ForceConnectionClose),
		AntiCache:            enabled(c.CacheBusting),
		NoStore:              enabled(c.NoStore),
		SyntheticUserAgent:   c.SyntheticUserAgent,
		DebugHeaders:         c.DebugHeaders,
	}
}

// CacheBustingEnabled reports whether cache-busting markers are injected upstream.
func (c *ProxyConfig) CacheBustingEnabled() bool {
	return enabled(c.CacheBusting)
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnInsecure logs a warning when upstream certificate validation is disabled.
func (c *Config) WarnInsecure(logger *slog.Logger) {
	if !c.Proxy.Permissive() {
		return
	}
	logger.Warn("upstream TLS certificate validation is DISABLED (proxy.tls_verification = \"permissive\"); "+
		"responses can be intercepted or forged by anyone on the network path",
		"tls_verification", c.Proxy.TLSVerification,
	)
}
