// Package config loads the service configuration from YAML and checks it
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/flush"
	"github.com/roach88/coffer/internal/scoreboard"
)

//go:embed schema.cue
var schemaSource string

// EnvDatabase overrides Database.Path when set.
const EnvDatabase = "COFFER_DATABASE"

// Validation error codes (E200-E299)
const (
	ErrCodeSchema   = "E201" // value rejected by the schema
	ErrCodeCurrency = "E202" // currency policy unusable
	ErrCodeInternal = "E299" // schema itself failed to build
)

// Config is the full service configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Flush      FlushConfig      `yaml:"flush"`
	Currency   CurrencyConfig   `yaml:"currency"`
	Workers    WorkersConfig    `yaml:"workers"`
	Logging    LoggingConfig    `yaml:"logging"`
	Scoreboard ScoreboardConfig `yaml:"scoreboard"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type FlushConfig struct {
	Period time.Duration `yaml:"period"`
}

type CurrencyConfig struct {
	Name           string `yaml:"name"`
	Symbol         string `yaml:"symbol"`
	DefaultBalance int64  `yaml:"default_balance"`
	Locale         string `yaml:"locale"`
}

type WorkersConfig struct {
	Count        int           `yaml:"count"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type ScoreboardConfig struct {
	TTL time.Duration `yaml:"ttl"` // tag balances older than this are re-read
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := currency.Default()
	return &Config{
		Database: DatabaseConfig{Path: "coffer.db"},
		Flush:    FlushConfig{Period: flush.DefaultPeriod},
		Currency: CurrencyConfig{
			Name:           policy.Name,
			Symbol:         policy.Symbol,
			DefaultBalance: policy.DefaultBalance,
			Locale:         policy.Locale,
		},
		Workers:    WorkersConfig{Count: engine.DefaultWorkers, QueryTimeout: 5 * time.Second},
		Logging:    LoggingConfig{Level: "info"},
		Scoreboard: ScoreboardConfig{TTL: scoreboard.DefaultTTL},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validate config: %w", errs)
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if db := os.Getenv(EnvDatabase); db != "" {
		cfg.Database.Path = db
	}
	return cfg, nil
}

// Policy returns the currency policy the config describes.
func (c *Config) Policy() currency.Policy {
	return currency.Policy{
		Name:           c.Currency.Name,
		Symbol:         c.Currency.Symbol,
		DefaultBalance: c.Currency.DefaultBalance,
		Locale:         c.Currency.Locale,
	}
}

// LogLevel maps Logging.Level to a slog level. Unknown levels map to Info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidationError is one rejected configuration value.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the config against the schema and the currency policy.
// Returns all errors found (does not fail-fast); nil means valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return ValidationErrors{{Field: "schema", Message: err.Error(), Code: ErrCodeInternal}}
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.document()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			errs = append(errs, ValidationError{
				Field:   strings.Join(e.Path(), "."),
				Message: fmt.Sprintf(format, args...),
				Code:    ErrCodeSchema,
			})
		}
	}

	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "currency", Message: err.Error(), Code: ErrCodeCurrency})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// document is the shape the schema constrains.
type document struct {
	Database struct {
		Path string `json:"path"`
	} `json:"database"`
	Flush struct {
		Period int64 `json:"period"`
	} `json:"flush"`
	Currency struct {
		Name           string `json:"name"`
		Symbol         string `json:"symbol"`
		DefaultBalance int64  `json:"default_balance"`
		Locale         string `json:"locale"`
	} `json:"currency"`
	Workers struct {
		Count        int   `json:"count"`
		QueryTimeout int64 `json:"query_timeout"`
	} `json:"workers"`
	Logging struct {
		Level string `json:"level"`
	} `json:"logging"`
	Scoreboard struct {
		TTL int64 `json:"ttl"`
	} `json:"scoreboard"`
}

func (c *Config) document() document {
	var d document
	d.Database.Path = c.Database.Path
	d.Flush.Period = int64(c.Flush.Period)
	d.Currency.Name = c.Currency.Name
	d.Currency.Symbol = c.Currency.Symbol
	d.Currency.DefaultBalance = c.Currency.DefaultBalance
	d.Currency.Locale = c.Currency.Locale
	d.Workers.Count = c.Workers.Count
	d.Workers.QueryTimeout = int64(c.Workers.QueryTimeout)
	d.Logging.Level = c.Logging.Level
	d.Scoreboard.TTL = int64(c.Scoreboard.TTL)
	return d
}
