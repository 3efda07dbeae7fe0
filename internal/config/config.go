// Package config loads the geocopy configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/typemap"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a geocopy run.
type Config struct {
	Source      dbconfig.SourceConfig `yaml:"source" toml:"source"`
	Target      dbconfig.TargetConfig `yaml:"target" toml:"target"`
	Transfer    TransferConfig        `yaml:"transfer" toml:"transfer"`
	TypeMapping map[string]string     `yaml:"type_mapping" toml:"type_mapping"`
	Logging     LoggingConfig         `yaml:"logging" toml:"logging"`
	State       StateConfig           `yaml:"state" toml:"state"`
	Schedule    ScheduleConfig        `yaml:"schedule" toml:"schedule"`

	// path is the file the config was read from, used to resolve relative paths.
	path string
}

// TransferConfig controls how tables are copied.
type TransferConfig struct {
	Workers          int           `yaml:"workers" toml:"workers" default:"4" validate:"gte=1,lte=64"`
	RowsPerStatement int           `yaml:"rows_per_statement" toml:"rows_per_statement" validate:"gte=0"` // 0 = as many as fit the bind limit
	IndexMethod      string        `yaml:"index_method" toml:"index_method" default:"gist" validate:"oneof=gist spgist brin"`
	TableTimeout     time.Duration `yaml:"table_timeout" toml:"table_timeout"`
	Tables           []string      `yaml:"tables" toml:"tables"`         // "source[,dest]" entries
	TableList        string        `yaml:"table_list" toml:"table_list"` // file with one entry per line
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" default:"text" validate:"oneof=text json"`
}

// StateConfig controls the run history database.
type StateConfig struct {
	Path     string `yaml:"path" toml:"path"` // default ~/.geocopy/history.db
	Disabled bool   `yaml:"disabled" toml:"disabled"`
}

// ScheduleConfig controls the schedule command.
type ScheduleConfig struct {
	Cron  string `yaml:"cron" toml:"cron"`
	Watch bool   `yaml:"watch" toml:"watch"` // rerun when the table list file changes
}

// Load reads a YAML or TOML file (chosen by extension), expands ${ENV}
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.path = abs
	return cfg, nil
}

// Parse decodes config data. ext selects the format: ".toml" for TOML,
// anything else for YAML.
func Parse(data []byte, ext string) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(expanded, &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}

	c.Source.Type = strings.ToLower(strings.TrimSpace(c.Source.Type))
	d, err := driver.Get(c.Source.Type)
	if err != nil {
		return fmt.Errorf("source.type: %w", err)
	}
	c.Source.Type = d.Name()
	dd := d.Defaults()
	if c.Source.Port == 0 {
		c.Source.Port = dd.Port
	}
	if c.Source.Schema == "" {
		c.Source.Schema = dd.Schema
	}
	if c.Source.Encrypt == nil {
		enc := dd.Encrypt
		c.Source.Encrypt = &enc
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Transfer.IndexMethod = strings.ToLower(c.Transfer.IndexMethod)
	return nil
}

func (c *Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for native, mapped := range c.TypeMapping {
		if strings.TrimSpace(native) == "" || strings.TrimSpace(mapped) == "" {
			return fmt.Errorf("type_mapping: empty entry %q: %q", native, mapped)
		}
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	if c.Schedule.Watch && c.Transfer.TableList == "" {
		return fmt.Errorf("schedule.watch requires transfer.table_list")
	}
	if c.Source.Host == c.Target.Host && c.Source.Port == c.Target.Port &&
		c.Source.Database == c.Target.Database && c.Source.Schema == c.Target.Schema {
		return fmt.Errorf("source and target point at the same database and schema")
	}
	return nil
}

// Validate re-checks the config, e.g. after command-line overrides.
func (c *Config) Validate() error {
	c.Transfer.IndexMethod = strings.ToLower(c.Transfer.IndexMethod)
	return c.validate()
}

// Path returns the absolute path of the loaded file, or "" for parsed data.
func (c *Config) Path() string {
	return c.path
}

// ResolvePath resolves p relative to the config file directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// TableListPath returns the resolved table list file, or "".
func (c *Config) TableListPath() string {
	return c.ResolvePath(c.Transfer.TableList)
}

// TypeMappings returns the source dialect's built-in table with the
// configured type_mapping entries merged over it.
func (c *Config) TypeMappings() (map[string]string, error) {
	d, err := driver.Get(c.Source.Type)
	if err != nil {
		return nil, err
	}
	return typemap.Merge(d.Dialect().DefaultTypeMappings(), c.TypeMapping), nil
}

// Mapper builds the type mapper for this configuration.
func (c *Config) Mapper() (*typemap.Mapper, error) {
	table, err := c.TypeMappings()
	if err != nil {
		return nil, err
	}
	return typemap.New(table), nil
}

// Summary returns the non-secret settings as sorted "key=value" lines.
func (c *Config) Summary() []string {
	lines := []string{
		fmt.Sprintf("source=%s://%s:%d/%s (schema %s)", c.Source.Type, c.Source.Host, c.Source.Port, c.Source.Database, c.Source.Schema),
		fmt.Sprintf("target=postgres://%s:%d/%s (schema %s, sslmode %s)", c.Target.Host, c.Target.Port, c.Target.Database, c.Target.Schema, c.Target.SSLMode),
		fmt.Sprintf("workers=%d", c.Transfer.Workers),
		fmt.Sprintf("index_method=%s", c.Transfer.IndexMethod),
		fmt.Sprintf("type_mapping_overrides=%d", len(c.TypeMapping)),
	}
	if c.Transfer.TableTimeout > 0 {
		lines = append(lines, fmt.Sprintf("table_timeout=%s", c.Transfer.TableTimeout))
	}
	sort.Strings(lines)
	return lines
}
