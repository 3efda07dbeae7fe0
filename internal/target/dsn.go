package target

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
)

// BuildDSN returns a postgres:// URL for cfg. User and password are escaped.
func BuildDSN(cfg *dbconfig.TargetConfig) string {
	query := url.Values{}
	opts := cfg.DSNOptions()
	if sslMode, ok := opts["sslmode"].(string); ok {
		query.Set("sslmode", sslMode)
	}
	if timeout, ok := opts["connectTimeout"].(time.Duration); ok {
		query.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))
	}
	query.Set("application_name", "geocopy")

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}
