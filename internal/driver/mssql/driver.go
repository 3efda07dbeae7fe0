// Package mssql provides the Microsoft SQL Server source driver.
// It registers itself with the driver registry on import.
package mssql

import (
	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mssql"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlserver", "sql-server"}
}

// Defaults returns the SQL Server connection defaults.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{
		Port:    1433,
		Schema:  "dbo",
		Encrypt: true,
	}
}

// Dialect returns the MSSQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}
