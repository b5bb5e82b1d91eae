package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"calview/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. CALVIEW_LISTEN.
const EnvPrefix = "CALVIEW"

// Supported backends.
const (
	BackendREST   = "rest"
	BackendGoogle = "google"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// ID is an internal identifier used in event IDs and logging.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RESTConfig points at the calendar REST API.
type RESTConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Token   string `yaml:"token,omitempty" json:"-"`
}

// GoogleConfig holds the OAuth client and token locations.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string `yaml:"token_file" json:"token_file"`
	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
}

type CacheConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// FetchConfig controls timeout and retry of every upstream read. The
// timeout also bounds writes, which are never retried.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff" json:"base_backoff"`
}

type FallbackConfig struct {
	// Path of the SQLite snapshot file. Empty disables the fallback store.
	Path string `yaml:"path" json:"path"`
	// Retention drops snapshots older than this on each background run.
	Retention time.Duration `yaml:"retention" json:"retention"`
}

type LayoutConfig struct {
	// WidthPolicy is "instant" (default) or "cluster".
	WidthPolicy string `yaml:"width_policy" json:"width_policy"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone days and weeks are computed in, or "Local".
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Backend selects the read/write upstream: "rest" or "google".
	Backend string       `yaml:"backend" json:"backend"`
	REST    RESTConfig   `yaml:"rest" json:"rest"`
	Google  GoogleConfig `yaml:"google" json:"google"`

	// DefaultView is the view mode the controller starts in.
	DefaultView string `yaml:"default_view" json:"default_view"`

	Cache CacheConfig `yaml:"cache" json:"cache"`
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// RefreshCron is the background refresh schedule (e.g. "*/5 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Fallback FallbackConfig `yaml:"fallback" json:"fallback"`
	Layout   LayoutConfig   `yaml:"layout" json:"layout"`

	// ICS is the list of read-only feeds merged into the calendar.
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	NotificationTTL time.Duration `yaml:"notification_ttl" json:"notification_ttl"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendREST
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = "token.json"
	}
	if c.DefaultView == "" {
		c.DefaultView = "week"
	}
	if c.Cache.Duration <= 0 {
		c.Cache.Duration = 5 * time.Minute
	}
	def := retry.DefaultPolicy()
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = def.Timeout
	}
	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = def.MaxAttempts
	}
	if c.Fetch.BaseBackoff <= 0 {
		c.Fetch.BaseBackoff = def.BaseBackoff
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/5 * * * *"
	}
	if c.Fallback.Retention <= 0 {
		c.Fallback.Retention = 30 * 24 * time.Hour
	}
	if c.Layout.WidthPolicy == "" {
		c.Layout.WidthPolicy = "instant"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics%d", i+1)
		}
	}
	if c.NotificationTTL <= 0 {
		c.NotificationTTL = 10 * time.Second
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendREST:
		if c.REST.BaseURL == "" {
			errs = append(errs, errors.New("rest.base_url is required for the rest backend"))
		}
	case BackendGoogle:
		if c.Google.CredentialsFile == "" {
			errs = append(errs, errors.New("google.credentials_file is required for the google backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.DefaultView {
	case "day", "week", "month", "all":
	default:
		errs = append(errs, fmt.Errorf("unknown default_view %q", c.DefaultView))
	}
	switch c.Layout.WidthPolicy {
	case "instant", "cluster":
	default:
		errs = append(errs, fmt.Errorf("unknown layout.width_policy %q", c.Layout.WidthPolicy))
	}
	seen := make(map[string]bool)
	for _, feed := range c.ICS {
		if feed.URL == "" {
			errs = append(errs, fmt.Errorf("ics feed %q has no url", feed.ID))
		}
		if seen[feed.ID] {
			errs = append(errs, fmt.Errorf("duplicate ics feed id %q", feed.ID))
		}
		seen[feed.ID] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RetryPolicy is the fetch policy for cache stores.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Timeout = c.Fetch.Timeout
	p.MaxAttempts = c.Fetch.MaxAttempts
	p.BaseBackoff = c.Fetch.BaseBackoff
	return p
}

// envOverrides mirrors the settings that may come from the environment.
// Zero values leave the file setting alone.
type envOverrides struct {
	Listen            string        `envconfig:"LISTEN"`
	Timezone          string        `envconfig:"TIMEZONE"`
	LogLevel          string        `envconfig:"LOG_LEVEL"`
	Backend           string        `envconfig:"BACKEND"`
	RESTBaseURL       string        `envconfig:"REST_BASE_URL"`
	RESTToken         string        `envconfig:"REST_TOKEN"`
	GoogleCredentials string        `envconfig:"GOOGLE_CREDENTIALS_FILE"`
	GoogleToken       string        `envconfig:"GOOGLE_TOKEN_FILE"`
	GoogleCalendarID  string        `envconfig:"GOOGLE_CALENDAR_ID"`
	DefaultView       string        `envconfig:"DEFAULT_VIEW"`
	CacheDuration     time.Duration `envconfig:"CACHE_DURATION"`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT"`
	FetchMaxAttempts  int           `envconfig:"FETCH_MAX_ATTEMPTS"`
	FetchBaseBackoff  time.Duration `envconfig:"FETCH_BASE_BACKOFF"`
	RefreshCron       string        `envconfig:"REFRESH"`
	FallbackPath      string        `envconfig:"FALLBACK_PATH"`
	WidthPolicy       string        `envconfig:"LAYOUT_WIDTH_POLICY"`
	BasicAuthUser     string        `envconfig:"BASIC_AUTH_USERNAME"`
	BasicAuthPassword string        `envconfig:"BASIC_AUTH_PASSWORD"`
}

// ApplyEnv overlays CALVIEW_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment variables: %w", err)
	}
	setString(&c.Listen, env.Listen)
	setString(&c.Timezone, env.Timezone)
	setString(&c.LogLevel, env.LogLevel)
	setString(&c.Backend, env.Backend)
	setString(&c.REST.BaseURL, env.RESTBaseURL)
	setString(&c.REST.Token, env.RESTToken)
	setString(&c.Google.CredentialsFile, env.GoogleCredentials)
	setString(&c.Google.TokenFile, env.GoogleToken)
	setString(&c.Google.CalendarID, env.GoogleCalendarID)
	setString(&c.DefaultView, env.DefaultView)
	setString(&c.RefreshCron, env.RefreshCron)
	setString(&c.Fallback.Path, env.FallbackPath)
	setString(&c.Layout.WidthPolicy, env.WidthPolicy)
	if env.CacheDuration > 0 {
		c.Cache.Duration = env.CacheDuration
	}
	if env.FetchTimeout > 0 {
		c.Fetch.Timeout = env.FetchTimeout
	}
	if env.FetchMaxAttempts > 0 {
		c.Fetch.MaxAttempts = env.FetchMaxAttempts
	}
	if env.FetchBaseBackoff > 0 {
		c.Fetch.BaseBackoff = env.FetchBaseBackoff
	}
	if env.BasicAuthUser != "" {
		c.BasicAuth = &BasicAuthConfig{Username: env.BasicAuthUser, Password: env.BasicAuthPassword}
	}
	c.Normalize()
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Load loads configuration from the given YAML path, then applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Normalize()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with 0600
// permissions on the result.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
