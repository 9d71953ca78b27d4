package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]ModuleConfig)
	registryMu sync.RWMutex
)

// Register adds a module to the registry, filling in default limits.
// Panics if the configuration is invalid or the name is already registered.
func Register(cfg ModuleConfig) {
	registryMu.Lock()
	defer registryMu.Unlock()

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid import module: %v", err))
	}
	if _, exists := registry[cfg.Name]; exists {
		panic(fmt.Sprintf("import module already registered: %s", cfg.Name))
	}

	registry[cfg.Name] = cfg
}

// Get returns a module by name.
// Returns false if not found.
func Get(name string) (ModuleConfig, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	cfg, ok := registry[name]
	return cfg, ok
}

// All returns all registered modules sorted by name.
func All() []ModuleConfig {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]ModuleConfig, 0, len(registry))
	for _, cfg := range registry {
		result = append(result, cfg)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// ModuleCount returns the number of registered modules.
func ModuleCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered modules.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]ModuleConfig)
}
