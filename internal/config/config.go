// Package config loads crudgate settings.
//
// Precedence, highest first: command-line flags, CRUDGATE_* environment
// variables, the YAML config file, built-in defaults. Nested keys use a
// double underscore in the environment:
//
//	CRUDGATE_CONNECTION_STRINGS__POSTGRES=postgres://app@db/tienda
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/bgunnarsson/crudgate/internal/db"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRUDGATE_"

// Config file names looked up in the working directory when none is given.
const (
	FileName    = "crudgate.yaml"
	FileNameAlt = "crudgate.yml"
)

// Defaults.
const (
	DefaultProvider     = "sqlserver"
	DefaultPolicyFile   = "tablasprohibidas.json"
	DefaultListen       = ":8080"
	DefaultQueryTimeout = 30 * time.Second
	DefaultHashCost     = 10
	DefaultMaxOpenConns = 10
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "auto"
)

type ConnectionStrings struct {
	SQLServer string `koanf:"sqlserver"`
	Postgres  string `koanf:"postgres"`
	MySQL     string `koanf:"mysql"`
}

type Config struct {
	DatabaseProvider  string            `koanf:"database_provider"`
	ConnectionStrings ConnectionStrings `koanf:"connection_strings"`
	PolicyFile        string            `koanf:"policy_file"`
	WatchPolicy       bool              `koanf:"watch_policy"`
	Listen            string            `koanf:"listen"`
	QueryTimeout      time.Duration     `koanf:"query_timeout"`
	HashCost          int               `koanf:"hash_cost"`
	MaxOpenConns      int               `koanf:"max_open_conns"`
	LogLevel          string            `koanf:"log_level"`
	LogFormat         string            `koanf:"log_format"`

	// FileUsed is the config file that was read, if any.
	FileUsed string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"database_provider": DefaultProvider,
		"policy_file":       DefaultPolicyFile,
		"watch_policy":      true,
		"listen":            DefaultListen,
		"query_timeout":     DefaultQueryTimeout.String(),
		"hash_cost":         DefaultHashCost,
		"max_open_conns":    DefaultMaxOpenConns,
		"log_level":         DefaultLogLevel,
		"log_format":        DefaultLogFormat,
	}
}

// connStringFlagPrefix marks the flags that set connection_strings.*.
const connStringFlagPrefix = "connection-string-"

// RegisterFlags adds one flag per config key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("database-provider", DefaultProvider, "database provider (sqlserver, postgres, mysql)")
	fs.String(connStringFlagPrefix+"sqlserver", "", "SQL Server connection string")
	fs.String(connStringFlagPrefix+"postgres", "", "PostgreSQL connection string")
	fs.String(connStringFlagPrefix+"mysql", "", "MySQL connection string")
	fs.String("policy-file", DefaultPolicyFile, "forbidden tables file")
	fs.Bool("watch-policy", true, "reload the policy file when it changes")
	fs.String("listen", DefaultListen, "HTTP listen address")
	fs.Duration("query-timeout", DefaultQueryTimeout, "per-operation timeout (0 disables)")
	fs.Int("hash-cost", DefaultHashCost, "bcrypt cost for hashed fields")
	fs.Int("max-open-conns", DefaultMaxOpenConns, "connection pool size")
	fs.String("log-level", DefaultLogLevel, "debug, info, warn or error")
	fs.String("log-format", DefaultLogFormat, "auto, text or json")
}

// Load reads configuration. cfgFile may be empty, in which case
// crudgate.yaml (or .yml) in the working directory is used when present.
// flags may be nil; only flags that were set on the command line apply.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// CRUDGATE_CONNECTION_STRINGS__MYSQL -> connection_strings.mysql
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.FileUsed = used

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKey maps a flag name to its config key:
// connection-string-mysql -> connection_strings.mysql, max-open-conns -> max_open_conns.
func flagKey(name string) string {
	if dialect, ok := strings.CutPrefix(name, connStringFlagPrefix); ok {
		return "connection_strings." + dialect
	}
	return strings.ReplaceAll(name, "-", "_")
}

// An explicit path is returned as given so a missing file is reported.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{FileName, FileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	if _, err := db.ParseDialect(c.DatabaseProvider); err != nil {
		errs = append(errs, err)
	}
	if c.QueryTimeout < 0 {
		errs = append(errs, fmt.Errorf("query_timeout must not be negative"))
	}
	if c.HashCost < bcrypt.MinCost || c.HashCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("hash_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.HashCost))
	}
	if c.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("max_open_conns must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be auto, text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return lvl, nil
}

// Provider selects the configured dialect and its connection string.
func (c *Config) Provider() (Provider, error) {
	d, err := db.ParseDialect(c.DatabaseProvider)
	if err != nil {
		return Provider{}, err
	}
	return Provider{Dialect: d, Strings: c.ConnectionStrings}, nil
}

// Provider is the connection settings for one dialect.
type Provider struct {
	Dialect db.Dialect
	Strings ConnectionStrings
}

// ConnectionString returns the string configured for the selected
// dialect. It is not validated here; the driver does that on open.
func (p Provider) ConnectionString() string {
	switch p.Dialect {
	case db.DialectPostgres:
		return p.Strings.Postgres
	case db.DialectMySQL:
		return p.Strings.MySQL
	default:
		return p.Strings.SQLServer
	}
}
