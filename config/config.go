// Package config loads the lockctl configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/validator"
)

// Supported store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Backend       string        `yaml:"backend"`
	DSN           string        `yaml:"dsn"`
	TablePrefix   string        `yaml:"table_prefix"`
	Region        string        `yaml:"region"`
	TTL           time.Duration `yaml:"ttl"`
	Owner         string        `yaml:"owner"`
	MaxRetries    uint64        `yaml:"max_retries"`
	CacheCapacity int           `yaml:"cache_capacity"`
	Janitor       Janitor       `yaml:"janitor"`
	Log           Log           `yaml:"log"`
}

type Janitor struct {
	Interval time.Duration `yaml:"interval"`
	MaxIdle  time.Duration `yaml:"max_idle"`
}

type Log struct {
	// Verbosity is the logr V level enabled by the CLI logger.
	Verbosity int `yaml:"verbosity"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend:       BackendSQLite,
		DSN:           "leaselock.db",
		TablePrefix:   "int_",
		Region:        "DEFAULT",
		TTL:           10 * time.Second,
		MaxRetries:    3,
		CacheCapacity: 100_000,
		Janitor: Janitor{
			Interval: time.Minute,
			MaxIdle:  10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		return c, check(c)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Configuration(err, "config: decode")
	}
	if err := check(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func check(c Config) error {
	return validator.Validate(c, Config.Validate, validateDSN)
}

// validateDSN rejects a DSN whose form cannot belong to the backend. It
// runs after Validate, so Backend is known to be supported.
func validateDSN(c Config) error {
	var ok bool
	switch c.Backend {
	case BackendRedis:
		ok = hasScheme(c.DSN, "redis", "rediss", "unix")
	case BackendPostgres:
		ok = hasScheme(c.DSN, "postgres", "postgresql") ||
			(!strings.Contains(c.DSN, "://") && strings.Contains(c.DSN, "="))
	default:
		ok = true
	}
	if !ok {
		return errors.Configuration(nil, "config: dsn %q is not a %s connection string", c.DSN, c.Backend)
	}
	return nil
}

func hasScheme(dsn string, schemes ...string) bool {
	scheme, _, found := strings.Cut(dsn, "://")
	return found && validator.In(strings.ToLower(scheme), schemes...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var v validator.Validator

	v.Check(validator.In(c.Backend, BackendSQLite, BackendPostgres, BackendRedis, BackendMemory),
		fmt.Errorf("backend %q is not supported", c.Backend))
	v.Check(c.Backend == BackendMemory || validator.NotBlank(c.DSN),
		errors.New("dsn is required"))
	v.Check(validator.Matches(c.TablePrefix, validator.RgxIdentifier),
		fmt.Errorf("table_prefix %q is not a valid identifier", c.TablePrefix))
	v.Check(validator.NotBlank(c.Region) && validator.MaxRunes(c.Region, 100),
		errors.New("region must be 1 to 100 characters"))
	v.Check(validator.MaxRunes(c.Owner, 255),
		errors.New("owner must be at most 255 characters"))
	v.Check(validator.Between(c.TTL, time.Millisecond, 24*time.Hour),
		fmt.Errorf("ttl %s must be between 1ms and 24h", c.TTL))
	v.Check(validator.Between(c.MaxRetries, 0, 10),
		errors.New("max_retries must be at most 10"))
	v.Check(validator.Positive(c.CacheCapacity),
		errors.New("cache_capacity must be positive"))
	v.Check(validator.Positive(c.Janitor.Interval),
		errors.New("janitor.interval must be positive"))
	v.Check(c.Janitor.MaxIdle >= 0,
		errors.New("janitor.max_idle must not be negative"))

	return v.Err("config: invalid")
}
