package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[ModuleID]ModuleInfo{}
)

// RegisterModule registers a module so it can be instantiated by ID when
// referenced in configuration. Typically called from the module package's
// init() function:
//
//	func init() {
//	    core.RegisterModule(Store{})
//	}
//
// Panics if the ID is empty, New is nil, or the ID is already taken.
// Registration happens during init so a panic here is a programmer error
// surfaced at startup, not a runtime condition.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID is empty")
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: ModuleInfo.New is nil", info.ID))
	}
	if v := info.New(); v == nil {
		panic(fmt.Sprintf("module %s: ModuleInfo.New returned nil", info.ID))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[info.ID]; ok {
		panic(fmt.Sprintf("module %s: already registered", info.ID))
	}
	registry[info.ID] = info
}

// GetModule returns the registration info for a module ID.
func GetModule(id ModuleID) (ModuleInfo, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[id]
	if !ok {
		return ModuleInfo{}, fmt.Errorf("module not registered: %s", id)
	}
	return info, nil
}

// GetModules returns the IDs of all registered modules, sorted.
func GetModules() []ModuleID {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]ModuleID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetModulesByNamespace returns the IDs of registered modules in the given
// namespace (the part before the first dot), sorted.
func GetModulesByNamespace(namespace string) []ModuleID {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var ids []ModuleID
	for id := range registry {
		if id.Namespace() == namespace {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// resetRegistry clears the registry. Tests only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[ModuleID]ModuleInfo{}
}
