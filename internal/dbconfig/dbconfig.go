// Package dbconfig provides database connection settings used by both
// the config and driver packages. This package exists to break the
// circular import between config and driver packages.
package dbconfig

import "time"

// SourceConfig holds source database connection settings.
type SourceConfig struct {
	Type            string        `yaml:"type" toml:"type" default:"mssql" validate:"required"` // "mssql" or "mysql"
	Host            string        `yaml:"host" toml:"host" validate:"required"`
	Port            int           `yaml:"port" toml:"port" validate:"gte=0,lte=65535"`
	Database        string        `yaml:"database" toml:"database" validate:"required"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	Schema          string        `yaml:"schema" toml:"schema"`                       // default from driver (dbo for mssql)
	TrustServerCert bool          `yaml:"trust_server_cert" toml:"trust_server_cert"` // MSSQL: trust server certificate
	Encrypt         *bool         `yaml:"encrypt" toml:"encrypt"`                     // MSSQL: enable TLS encryption
	ConnectTimeout  time.Duration `yaml:"connect_timeout" toml:"connect_timeout" default:"30s"`
}

// TargetConfig holds PostgreSQL connection settings.
type TargetConfig struct {
	Host           string        `yaml:"host" toml:"host" validate:"required"`
	Port           int           `yaml:"port" toml:"port" default:"5432" validate:"gte=0,lte=65535"`
	Database       string        `yaml:"database" toml:"database" validate:"required"`
	User           string        `yaml:"user" toml:"user"`
	Password       string        `yaml:"password" toml:"password"`
	Schema         string        `yaml:"schema" toml:"schema" default:"public"`
	SSLMode        string        `yaml:"ssl_mode" toml:"ssl_mode" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout" default:"30s"`
}

// DSNOptions returns a map of options for building a DSN.
func (c *SourceConfig) DSNOptions() map[string]any {
	opts := make(map[string]any)
	if c.Encrypt != nil {
		opts["encrypt"] = *c.Encrypt
	}
	if c.TrustServerCert {
		opts["trustServerCertificate"] = true
	}
	if c.ConnectTimeout > 0 {
		opts["connectTimeout"] = c.ConnectTimeout
	}
	return opts
}

// DSNOptions returns a map of options for building a DSN.
func (c *TargetConfig) DSNOptions() map[string]any {
	opts := make(map[string]any)
	if c.SSLMode != "" {
		opts["sslmode"] = c.SSLMode
	}
	if c.ConnectTimeout > 0 {
		opts["connectTimeout"] = c.ConnectTimeout
	}
	return opts
}
