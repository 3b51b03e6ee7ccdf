package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"forward-proxy-go/internal/policy"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9100
body_max_bytes = 5242880

[proxy]
header_profile = "allowlist"
tls_verification = "strict"
timeout_seconds = 10
cache_busting = false
force_connection_close = false
no_store = false
synthetic_user_agent = true
debug_headers = true

[envelope]
enabled = true
path = "/lambda"
max_body_bytes = 1000
soft_limit_bytes = 500

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9100)
	}
	if cfg.Proxy.HeaderProfile != "allowlist" {
		t.Errorf("Proxy.HeaderProfile = %q, want %q", cfg.Proxy.HeaderProfile, "allowlist")
	}
	if got := cfg.Proxy.Timeout(); got != 10*time.Second {
		t.Errorf("Proxy.Timeout() = %v, want %v", got, 10*time.Second)
	}
	if cfg.Proxy.CacheBustingEnabled() {
		t.Error("CacheBustingEnabled() = true, want false")
	}
	if cfg.Envelope.Path != "/lambda" {
		t.Errorf("Envelope.Path = %q, want %q", cfg.Envelope.Path, "/lambda")
	}
	if cfg.Envelope.SoftLimitBytes != 500 {
		t.Errorf("Envelope.SoftLimitBytes = %d, want %d", cfg.Envelope.SoftLimitBytes, 500)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	p := cfg.Proxy.Policy()
	want := policy.Policy{
		Profile:            policy.ProfileAllowList,
		SyntheticUserAgent: true,
		DebugHeaders:       true,
	}
	if p != want {
		t.Errorf("Policy() = %+v, want %+v", p, want)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty config\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Proxy.HeaderProfile != string(policy.ProfileDenyList) {
		t.Errorf("Proxy.HeaderProfile = %q, want %q", cfg.Proxy.HeaderProfile, policy.ProfileDenyList)
	}
	if cfg.Proxy.TLSVerification != TLSStrict {
		t.Errorf("Proxy.TLSVerification = %q, want %q", cfg.Proxy.TLSVerification, TLSStrict)
	}
	if cfg.Proxy.Permissive() {
		t.Error("Permissive() = true by default, want false")
	}
	if cfg.Proxy.TimeoutSeconds != 30 {
		t.Errorf("Proxy.TimeoutSeconds = %d, want %d", cfg.Proxy.TimeoutSeconds, 30)
	}
	if !cfg.Proxy.CacheBustingEnabled() {
		t.Error("CacheBustingEnabled() = false, want true by default")
	}
	p := cfg.Proxy.Policy()
	if !p.ForceConnectionClose || !p.NoStore || !p.AntiCache {
		t.Errorf("Policy() = %+v, want connection-close, no-store and anti-cache on", p)
	}
	if cfg.Envelope.Path != "/invoke" {
		t.Errorf("Envelope.Path = %q, want %q", cfg.Envelope.Path, "/invoke")
	}
	if cfg.Envelope.MaxBodyBytes != 6*1024*1024 {
		t.Errorf("Envelope.MaxBodyBytes = %d, want %d", cfg.Envelope.MaxBodyBytes, 6*1024*1024)
	}
	if cfg.Envelope.SoftLimitBytes != cfg.Envelope.MaxBodyBytes*3/4 {
		t.Errorf("Envelope.SoftLimitBytes = %d, want %d", cfg.Envelope.SoftLimitBytes, cfg.Envelope.MaxBodyBytes*3/4)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000

[proxy]
header_profile = "denylist"
timeout_seconds = 30

[log]
level = "info"
`)

	cli := &CLI{
		Config:          path,
		Host:            "127.0.0.1",
		Port:            3000,
		LogLevel:        "debug",
		HeaderProfile:   "allowlist",
		TLSVerification: "permissive",
		Timeout:         5,
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Proxy.HeaderProfile != "allowlist" {
		t.Errorf("Proxy.HeaderProfile = %q, want %q (CLI override)", cfg.Proxy.HeaderProfile, "allowlist")
	}
	if !cfg.Proxy.Permissive() {
		t.Error("Permissive() = false, want true (CLI override)")
	}
	if cfg.Proxy.TimeoutSeconds != 5 {
		t.Errorf("Proxy.TimeoutSeconds = %d, want %d (CLI override)", cfg.Proxy.TimeoutSeconds, 5)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"negative timeout", "[proxy]\ntimeout_seconds = -5\n", "proxy.timeout_seconds"},
		{"unknown header profile", "[proxy]\nheader_profile = \"open\"\n", "proxy.header_profile"},
		{"unknown tls mode", "[proxy]\ntls_verification = \"off\"\n", "proxy.tls_verification"},
		{"negative envelope limit", "[envelope]\nmax_body_bytes = -1\n", "envelope"},
		{"soft above max", "[envelope]\nmax_body_bytes = 10\nsoft_limit_bytes = 20\n", "soft_limit_bytes"},
		{"rate limit zero", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 25.5
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 25.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want %v", cfg.Server.RateLimit.RequestsPerSecond, 25.5)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnInsecure(t *testing.T) {
	tests := []struct {
		mode     string
		wantWarn bool
	}{
		{TLSStrict, false},
		{TLSPermissive, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := &Config{Proxy: ProxyConfig{TLSVerification: tt.mode}}
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
			cfg.WarnInsecure(logger)

			if got := strings.Contains(buf.String(), "DISABLED"); got != tt.wantWarn {
				t.Errorf("warning logged = %v, want %v (output %q)", got, tt.wantWarn, buf.String())
			}
		})
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[proxy]\nheader_profile = \"denylist\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_RoutePathConflicts(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"metrics on root", "[metrics]\nenabled = true\npath = \"/\"\n"},
		{"metrics on healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n"},
		{"metrics on proxy/status", "[metrics]\nenabled = true\npath = \"/proxy/status\"\n"},
		{"envelope on proxy", "[envelope]\nenabled = true\npath = \"/proxy\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error for conflicting route, got nil")
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsAndEnvelopeSamePath(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "/x"

[envelope]
enabled = true
path = "/x"
`)
	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for identical metrics and envelope paths, got nil")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestProxyConfig_PolicyNilSwitches(t *testing.T) {
	pc := &ProxyConfig{}
	p := pc.Policy()
	if p.Profile != policy.ProfileDenyList {
		t.Errorf("Profile = %q, want %q", p.Profile, policy.ProfileDenyList)
	}
	if !p.AntiCache || !p.NoStore || !p.ForceConnectionClose {
		t.Errorf("Policy() = %+v, want defaults on for nil switches", p)
	}
}
