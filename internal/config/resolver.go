package config

import (
	"slices"

	"github.com/mzhadan/chatforge/internal/core"
)

// loadOrder fixes the relative load position of known module namespaces.
// Service providers load before their consumers: stores and clients first,
// then the dialog layer, then surfaces that only observe.
var loadOrder = map[string]int{
	"telemetry": 0,
	"store":     1,
	"history":   2,
	"gateway":   3,
	"channel":   4,
	"owner":     5,
	"assistant": 6,
	"scheduler": 7,
}

// Resolve returns the module IDs from the configuration in load order.
// Namespaces with an explicit position come first; unknown namespaces
// load last. Ties break alphabetically so the order is deterministic.
func Resolve(cfg *Config) []core.ModuleID {
	ids := make([]core.ModuleID, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b core.ModuleID) int {
		pa, pb := namespaceRank(a), namespaceRank(b)
		if pa != pb {
			return pa - pb
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return ids
}

func namespaceRank(id core.ModuleID) int {
	if rank, ok := loadOrder[id.Namespace()]; ok {
		return rank
	}
	return len(loadOrder)
}
