package capi

import (
	"fmt"
	"sync"
)

// Driver is the registration record a native client implementation provides
// so it can be selected by name when opening a database.
type Driver struct {
	// Name is the identifier passed in the database config to select this
	// driver.
	Name string

	// Connect establishes a connection to the cluster reachable at the
	// given addresses and returns a Client bound to one database.
	Connect func(addresses []string) (Client, error)
}

var (
	driversMtx sync.RWMutex
	drivers    = make(map[string]Driver)
)

// RegisterDriver makes a driver available by name. Drivers are expected to
// call this from an init function. Registering the same name twice is an
// error.
func RegisterDriver(driver Driver) error {
	driversMtx.Lock()
	defer driversMtx.Unlock()

	if _, ok := drivers[driver.Name]; ok {
		return fmt.Errorf("driver %q is already registered", driver.Name)
	}
	drivers[driver.Name] = driver

	return nil
}

// Connect looks up the named driver and connects through it.
func Connect(name string, addresses []string) (Client, error) {
	driversMtx.RLock()
	driver, ok := drivers[name]
	driversMtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown driver %q", name)
	}

	return driver.Connect(addresses)
}

// RegisteredDrivers returns the names of all registered drivers.
func RegisteredDrivers() []string {
	driversMtx.RLock()
	defer driversMtx.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}

	return names
}
