package driver

import (
	"sync"
)

// Factory creates a new device instance.
type Factory func() (Device, error)

// registry holds registered drivers.
var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Factory)
	// Priority order for driver selection (first available wins).
	driverPriority = []string{"vulkan", "software"}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in driver packages.
// If a driver with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = factory
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(drivers, name)
}

// Available returns a list of registered driver names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

// Open creates a device by driver name.
// Returns ErrDriverNotAvailable if no such driver is registered.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := drivers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrDriverNotAvailable
	}
	return factory()
}

// OpenDefault creates a device from the best available driver based on
// priority, falling back to any registered driver.
func OpenDefault() (Device, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range driverPriority {
		if factory, ok := drivers[name]; ok {
			return factory()
		}
	}
	for _, factory := range drivers {
		return factory()
	}
	return nil, ErrDriverNotAvailable
}
