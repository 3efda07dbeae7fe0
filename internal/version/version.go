package version

import "github.com/carlmjohnson/versioninfo"

// Version can be overridden at build time with -ldflags "-X ...version.Version=...".
// When empty, the VCS information embedded by the Go toolchain is used.
var Version = ""

// Name is the application name.
const Name = "geocopy"

// Description is a short description of the application.
const Description = "Copy SQL Server and MySQL tables, spatial columns included, into PostgreSQL/PostGIS"

// String returns the version to report.
func String() string {
	if Version != "" {
		return Version
	}
	return versioninfo.Short()
}
