package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/engine"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store kinds.
const (
	StoreKindVault  = "vault"
	StoreKindSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Index  IndexConfig       `yaml:"index"`
	Report ReportConfig      `yaml:"report"`
	Watch  WatchConfig       `yaml:"watch"`
	Serve  ServeConfig       `yaml:"serve"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Serve.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the note store adapter.
//
// Kind is one of:
//   - "vault" (default): Path is a directory of Markdown files.
//   - "sqlite": Path is a note database file.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Kind == "" {
		c.Kind = StoreKindVault
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(StoreKindVault, StoreKindSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig holds the link index database configuration.
type IndexConfig struct {
	Path       string `yaml:"path"`
	ParamLimit int    `yaml:"param_limit"`
	// Prune forgets notes that left the store and turns links to them dead.
	Prune bool `yaml:"prune"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		// The widest batched statement binds three values per element.
		validation.Field(&c.ParamLimit, validation.Required, validation.Min(3)),
	)
}

// ReportConfig controls the broken-link report note. OpenURL and CreateURL
// are templates where {id} and {title} are substituted.
type ReportConfig struct {
	Title     string `yaml:"title"`
	OpenURL   string `yaml:"open_url"`
	CreateURL string `yaml:"create_url"`
}

// Engine converts the report settings for the engine.
func (c ReportConfig) Engine() engine.ReportConfig {
	return engine.ReportConfig{Title: c.Title, OpenURL: c.OpenURL, CreateURL: c.CreateURL}
}

// WatchConfig holds the watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// ServeConfig holds the serve mode settings. A zero Interval disables
// periodic runs.
type ServeConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Kind: StoreKindVault,
			Path: "./vault",
		},
		Index: IndexConfig{
			Path:       "./linkkeeper.db",
			ParamLimit: batch.DefaultLimit,
			Prune:      true,
		},
		Report: ReportConfig{
			Title: engine.DefaultReportTitle,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
