// Package config loads the vault daemon configuration: defaults, overlaid
// by an optional YAML file, overlaid by VAULTD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingRemote indicates no git remote URL was configured.
	ErrMissingRemote = errors.New("repo.remote_url is required")

	// ErrMissingWorkdir indicates no working-copy path was configured.
	ErrMissingWorkdir = errors.New("repo.workdir is required")

	// ErrInvalidTimeout indicates the network timeout is out of range.
	ErrInvalidTimeout = errors.New("repo.network_timeout must be between 1s and 5m")

	// ErrInvalidInterval indicates the notifier interval is not positive.
	ErrInvalidInterval = errors.New("notify.interval must be positive")

	// ErrInvalidLogLevel indicates an unknown log level string.
	ErrInvalidLogLevel = errors.New("log.level must be one of debug, info, warn, error")
)

// =============================================================================
// Config
// =============================================================================

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Repo    RepoConfig    `yaml:"repo"`
	Notify  NotifyConfig  `yaml:"notify"`
	Data    DataConfig    `yaml:"data"`
	Log     LogConfig     `yaml:"log"`
	Listing ListingConfig `yaml:"listing"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8475".
	Addr string `yaml:"addr"`

	// CORSOrigins are the allowed browser origins.
	CORSOrigins []string `yaml:"cors_origins"`

	// UserHeader is the trusted header carrying the authenticated user,
	// resolved by the upstream auth proxy.
	UserHeader string `yaml:"user_header"`

	// AdminHeader is the trusted header flagging admin requests.
	AdminHeader string `yaml:"admin_header"`

	// Admins are users treated as admins regardless of the admin header.
	Admins []string `yaml:"admins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RepoConfig configures the git remote and working copy.
type RepoConfig struct {
	// RemoteURL is the git remote the vault mirrors.
	RemoteURL string `yaml:"remote_url"`

	// Branch is the branch holding vault state.
	Branch string `yaml:"branch"`

	// Workdir is the local working copy path.
	Workdir string `yaml:"workdir"`

	// Token authenticates against the remote. TokenFile, if set, wins.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// TokenUser is the username paired with the token for basic auth.
	TokenUser string `yaml:"token_user"`

	// AuthorName and AuthorEmail are stamped on every vault commit when
	// the acting user has no email of their own.
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`

	// NetworkTimeout bounds each individual remote call (fetch, push,
	// ls-remote), independent of the retry policy.
	NetworkTimeout time.Duration `yaml:"network_timeout"`

	// PushAttempts bounds the re-pull-and-retry loop on push rejection.
	PushAttempts int `yaml:"push_attempts"`

	// RetryBaseDelay is the first backoff delay between push attempts.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// NotifyConfig configures the change notifier.
type NotifyConfig struct {
	// Interval is the periodic remote-fingerprint check cadence.
	Interval time.Duration `yaml:"interval"`

	// Debounce collapses bursts of filesystem hints into one check.
	Debounce time.Duration `yaml:"debounce"`

	// SubscriberBuffer is the per-observer event buffer before drops.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DataConfig configures local daemon state.
type DataConfig struct {
	// Dir overrides the XDG-resolved state root when set.
	Dir string `yaml:"dir"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ListingConfig configures the grouped file listing.
type ListingConfig struct {
	// ExcludeGlobs filters paths out of the listing entirely.
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8475",
			UserHeader:      "X-Auth-User",
			AdminHeader:     "X-Auth-Admin",
			ShutdownTimeout: 10 * time.Second,
		},
		Repo: RepoConfig{
			Branch:         "main",
			TokenUser:      "oauth2",
			AuthorName:     "vaultd",
			AuthorEmail:    "vaultd@localhost",
			NetworkTimeout: 20 * time.Second,
			PushAttempts:   3,
			RetryBaseDelay: 200 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Interval:         15 * time.Second,
			Debounce:         500 * time.Millisecond,
			SubscriberBuffer: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// Load builds the configuration from defaults, an optional YAML file, and
// VAULTD_* environment overrides, then validates it. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays a YAML file onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays VAULTD_* environment variables onto cfg. Only the
// settings an operator plausibly flips per deployment are exposed.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "VAULTD_ADDR")
	setString(&cfg.Repo.RemoteURL, "VAULTD_REMOTE_URL")
	setString(&cfg.Repo.Branch, "VAULTD_BRANCH")
	setString(&cfg.Repo.Workdir, "VAULTD_WORKDIR")
	setString(&cfg.Repo.Token, "VAULTD_TOKEN")
	setString(&cfg.Repo.TokenFile, "VAULTD_TOKEN_FILE")
	setString(&cfg.Data.Dir, "VAULTD_DATA_DIR")
	setString(&cfg.Log.Level, "VAULTD_LOG_LEVEL")
	setString(&cfg.Log.Format, "VAULTD_LOG_FORMAT")
	setDuration(&cfg.Notify.Interval, "VAULTD_NOTIFY_INTERVAL")
	setDuration(&cfg.Repo.NetworkTimeout, "VAULTD_NETWORK_TIMEOUT")
	setInt(&cfg.Repo.PushAttempts, "VAULTD_PUSH_ATTEMPTS")

	if v := os.Getenv("VAULTD_ADMINS"); v != "" {
		cfg.Server.Admins = splitList(v)
	}
	if v := os.Getenv("VAULTD_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Repo.RemoteURL == "" {
		return ErrMissingRemote
	}
	if c.Repo.Workdir == "" {
		return ErrMissingWorkdir
	}
	if c.Repo.NetworkTimeout < time.Second || c.Repo.NetworkTimeout > 5*time.Minute {
		return ErrInvalidTimeout
	}
	if c.Notify.Interval <= 0 {
		return ErrInvalidInterval
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Repo.PushAttempts < 1 {
		c.Repo.PushAttempts = 1
	}
	return nil
}

// ResolveToken returns the remote token, preferring TokenFile over the
// inline value. Whitespace is trimmed so `vaultd token` files round-trip.
func (c *RepoConfig) ResolveToken() (string, error) {
	if c.TokenFile != "" {
		data, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return c.Token, nil
}

// IsAdmin reports whether the user appears in the configured admin list.
func (c *ServerConfig) IsAdmin(user string) bool {
	for _, a := range c.Admins {
		if a == user {
			return true
		}
	}
	return false
}
