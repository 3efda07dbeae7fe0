package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
	aliases    = make(map[string]string)
)

// Register adds a driver to the registry under its name and aliases.
// It panics on a duplicate name, mirroring database/sql.Register.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := strings.ToLower(d.Name())
	if _, dup := drivers[name]; dup {
		panic("driver: Register called twice for " + name)
	}
	drivers[name] = d
	for _, a := range d.Aliases() {
		aliases[strings.ToLower(a)] = name
	}
}

// Get returns the driver registered under name or one of its aliases.
func Get(name string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	d, ok := drivers[key]
	if !ok {
		return nil, fmt.Errorf("unknown source type %q (available: %s)", name, strings.Join(availableLocked(), ", "))
	}
	return d, nil
}

// IsRegistered reports whether name resolves to a registered driver.
func IsRegistered(name string) bool {
	_, err := Get(name)
	return err == nil
}

// Canonicalize returns the primary driver name for a name or alias.
func Canonicalize(name string) string {
	d, err := Get(name)
	if err != nil {
		return strings.ToLower(name)
	}
	return d.Name()
}

// Available returns the sorted primary names of all registered drivers.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetDialect returns the dialect of a registered driver, or nil.
func GetDialect(name string) Dialect {
	d, err := Get(name)
	if err != nil {
		return nil
	}
	return d.Dialect()
}
