package provider

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Identity is the stable key of a provider. Two handles refer to the same
// node if and only if their identities are equal. Identities are assigned
// once at construction time and are safe to use as map keys.
type Identity struct {
	name   string
	serial uint64
}

// Name returns the debug name the provider was constructed with. Names are
// not required to be unique; the serial disambiguates.
func (id Identity) Name() string { return id.name }

// String renders the identity as "name#serial".
func (id Identity) String() string {
	return fmt.Sprintf("%s#%d", id.name, id.serial)
}

// IsZero reports whether the identity is the zero value, which never refers
// to a registered provider.
func (id Identity) IsZero() bool { return id.serial == 0 }

var identitySerial atomic.Uint64

func newIdentity(name string) Identity {
	return Identity{name: name, serial: identitySerial.Add(1)}
}

// The definition registry maps identities back to their definitions so that
// identity-keyed operations (ReadAny, inspection, file watchers) can recover
// the factory without a typed handle. Entries are added at construction time
// and never removed; definitions are immutable after registration.
var (
	registryMu sync.RWMutex
	registry   = map[Identity]*definition{}
)

func registerDefinition(d *definition) {
	registryMu.Lock()
	registry[d.id] = d
	registryMu.Unlock()
}

func lookupDefinition(id Identity) (*definition, bool) {
	registryMu.RLock()
	d, ok := registry[id]
	registryMu.RUnlock()
	return d, ok
}
