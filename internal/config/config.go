// Package config resolves ccviz settings from defaults, an optional TOML
// file, .env files and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const DefaultPort = 3847

type Config struct {
	HTTP struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"http"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
		Dev   bool   `toml:"dev"`
	} `toml:"logging"`
	Journal struct {
		Driver string `toml:"driver"` // "", "sqlite" or "postgres"
		DSN    string `toml:"dsn"`
		Buffer int    `toml:"buffer"`
	} `toml:"journal"`
	Telemetry struct {
		OTLPEndpoint string `toml:"otlp_endpoint"`
	} `toml:"telemetry"`
	Mirror struct {
		ResetAbove   float64 `toml:"reset_above"`
		ResetBelow   float64 `toml:"reset_below"`
		AdoptOrphans bool    `toml:"adopt_orphans"`
	} `toml:"mirror"`
	Client struct {
		Server string `toml:"server"`
	} `toml:"client"`
}

func DefaultConfig() Config {
	cfg := Config{}
	cfg.HTTP.Host = ""
	cfg.HTTP.Port = DefaultPort
	cfg.Logging.Level = "info"
	cfg.Logging.Dev = false
	cfg.Journal.Driver = ""
	cfg.Journal.Buffer = 256
	cfg.Mirror.ResetAbove = 50
	cfg.Mirror.ResetBelow = 20
	cfg.Mirror.AdoptOrphans = true
	cfg.Client.Server = fmt.Sprintf("http://localhost:%d", DefaultPort)
	return cfg
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// LoadDotEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Load returns the defaults overlaid with the TOML file at path (if any) and
// then the environment. An empty path falls back to $CCVIZ_CONFIG.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CCVIZ_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("HOST", &cfg.HTTP.Host)
	integer("PORT", &cfg.HTTP.Port)
	str("CCVIZ_LOG_LEVEL", &cfg.Logging.Level)
	str("CCVIZ_LOG_FILE", &cfg.Logging.File)
	boolean("CCVIZ_DEV_LOGS", &cfg.Logging.Dev)
	str("CCVIZ_JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("CCVIZ_JOURNAL_DSN", &cfg.Journal.DSN)
	str("CCVIZ_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	float("CCVIZ_RESET_ABOVE", &cfg.Mirror.ResetAbove)
	float("CCVIZ_RESET_BELOW", &cfg.Mirror.ResetBelow)
	boolean("CCVIZ_ADOPT_ORPHANS", &cfg.Mirror.AdoptOrphans)
	str("CCVIZ_SERVER", &cfg.Client.Server)

	return errs
}

func (c Config) Validate() error {
	var errs error
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("port %d out of range", c.HTTP.Port))
	}
	switch c.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown journal driver %q", c.Journal.Driver))
	}
	if c.Journal.Driver != "" && c.Journal.DSN == "" {
		errs = multierr.Append(errs, fmt.Errorf("journal driver %q needs a dsn", c.Journal.Driver))
	}
	if c.Journal.Buffer < 1 {
		errs = multierr.Append(errs, errors.New("journal buffer must be positive"))
	}
	if c.Mirror.ResetBelow > c.Mirror.ResetAbove {
		errs = multierr.Append(errs, fmt.Errorf("reset_below %.0f above reset_above %.0f", c.Mirror.ResetBelow, c.Mirror.ResetAbove))
	}
	return errs
}
