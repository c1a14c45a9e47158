// Package config loads runtime options from defaults, an optional file and
// VELOXRT_ environment variables, and validates them.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/logging"
	"github.com/syssam/veloxrt/query"
	"github.com/syssam/veloxrt/update"
)

// EnvPrefix prefixes environment overrides: VELOXRT_MAX_BATCH_SIZE,
// VELOXRT_LOG_LEVEL.
const EnvPrefix = "VELOXRT"

// Options holds the runtime options of a session.
type Options struct {
	Dialect            string         `mapstructure:"dialect" yaml:"dialect"`
	MaxBatchSize       int            `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	MaxStatementLength int            `mapstructure:"max_statement_length" yaml:"max_statement_length"`
	QueryCacheSize     int            `mapstructure:"query_cache_size" yaml:"query_cache_size"`
	NullKeyPolicy      string         `mapstructure:"null_key_policy" yaml:"null_key_policy"` // reject, sentinel
	Tracking           bool           `mapstructure:"tracking" yaml:"tracking"`
	SlowBatchThreshold time.Duration  `mapstructure:"slow_batch_threshold" yaml:"slow_batch_threshold"`
	Log                logging.Config `mapstructure:"log" yaml:"log"`
}

// Default returns the default options.
func Default() *Options {
	v := viper.New()
	setDefaults(v)
	var o Options
	if err := v.Unmarshal(&o); err != nil {
		panic(err)
	}
	return &o
}

// WriteYAML writes the options in the file format Load reads.
func (o *Options) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(o); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return enc.Close()
}

// Load reads options with the following precedence:
//  1. Environment variables
//  2. Config file at path, or veloxrt.yaml in the working directory
//  3. Default values
func Load(path string) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("veloxrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var o Options
	if err := v.UnmarshalExact(&o); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dialect", dialect.SQLite)
	v.SetDefault("max_batch_size", update.DefaultMaxBatchSize)
	v.SetDefault("max_statement_length", update.DefaultMaxStatementLength)
	v.SetDefault("query_cache_size", query.DefaultCacheSize)
	v.SetDefault("null_key_policy", "reject")
	v.SetDefault("tracking", true)
	v.SetDefault("slow_batch_threshold", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// ValidationError reports an invalid option.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate reports every invalid option.
func (o *Options) Validate() error {
	var errs []error
	invalid := func(field, format string, a ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, a...)})
	}
	switch o.Dialect {
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
	default:
		invalid("dialect", "unknown dialect %q", o.Dialect)
	}
	if o.MaxBatchSize <= 0 {
		invalid("max_batch_size", "must be positive, got %d", o.MaxBatchSize)
	}
	if o.MaxStatementLength <= 0 {
		invalid("max_statement_length", "must be positive, got %d", o.MaxStatementLength)
	}
	if o.QueryCacheSize < 0 {
		invalid("query_cache_size", "must not be negative, got %d", o.QueryCacheSize)
	}
	if _, err := identity.ParseNullKeyPolicy(o.NullKeyPolicy); err != nil {
		invalid("null_key_policy", "%v", err)
	}
	if o.SlowBatchThreshold < 0 {
		invalid("slow_batch_threshold", "must not be negative, got %s", o.SlowBatchThreshold)
	}
	switch o.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level", "unknown level %q", o.Log.Level)
	}
	switch o.Log.Format {
	case "json", "text":
	default:
		invalid("log.format", "unknown format %q", o.Log.Format)
	}
	return errors.Join(errs...)
}

// NullKeys returns the parsed null key policy.
func (o *Options) NullKeys() identity.NullKeyPolicy {
	p, _ := identity.ParseNullKeyPolicy(o.NullKeyPolicy)
	return p
}

// Limits returns the batch limits.
func (o *Options) Limits() update.BatchLimits {
	return update.BatchLimits{
		Dialect:            o.Dialect,
		MaxBatchSize:       o.MaxBatchSize,
		MaxStatementLength: o.MaxStatementLength,
	}
}
