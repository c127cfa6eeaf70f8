package host

import (
	"sort"
	"strings"
	"sync"
)

// Built-in unit types.
const (
	TypeInboundREST        = "inboundrest"
	TypeAzureAPIAppInbound = "azureApiAppInboundService"
	TypeStateReceive       = "statereceiveadapter"
)

// UnitFactory creates a fresh unit.
type UnitFactory func() Unit

var (
	unitsMu sync.RWMutex
	units   = map[string]UnitFactory{}
)

func init() {
	RegisterUnit(TypeInboundREST, func() Unit { return NewInboundREST() })
	RegisterUnit(TypeAzureAPIAppInbound, func() Unit { return NewInboundREST() })
	RegisterUnit(TypeStateReceive, func() Unit { return NewStateReceiveAdapter() })
}

// RegisterUnit makes a compiled unit available under typ. Activities of that
// type never fetch a script. Names are case-insensitive; a later
// registration replaces an earlier one.
func RegisterUnit(typ string, factory UnitFactory) {
	unitsMu.Lock()
	defer unitsMu.Unlock()
	units[strings.ToLower(typ)] = factory
}

// LookupUnit returns the factory registered for typ.
func LookupUnit(typ string) (UnitFactory, bool) {
	unitsMu.RLock()
	defer unitsMu.RUnlock()
	f, ok := units[strings.ToLower(typ)]
	return f, ok
}

// UnitTypes lists the registered types, sorted.
func UnitTypes() []string {
	unitsMu.RLock()
	defer unitsMu.RUnlock()
	out := make([]string, 0, len(units))
	for name := range units {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
