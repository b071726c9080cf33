package replicated

import (
	"fmt"
	"sync"

	"replicore/internal/persistent"
)

// DeserializeContext seeds a Deserializer with the collaborators it
// needs to rebind a reconstructed object into its new home: the target
// registry persistent fields attach to, and the type registry other
// nested deserializers (if any) can be looked up from (spec §4.5:
// "deserialization context seeded with the Persistent Registry... and
// the RPC manager's registered deserializers").
type DeserializeContext struct {
	Registry *persistent.Registry
	Types    *TypeRegistry
}

// TypeRegistry maps a type identity to the Deserializer that
// reconstructs it, the registered-deserializers collaborator of spec
// §4.5 and §6.
type TypeRegistry struct {
	mu            sync.RWMutex
	deserializers map[string]Deserializer
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{deserializers: make(map[string]Deserializer)}
}

// Register binds typeID to a Deserializer. A later call for the same
// typeID replaces the earlier one.
func (t *TypeRegistry) Register(typeID string, d Deserializer) {
	t.mu.Lock()
	t.deserializers[typeID] = d
	t.mu.Unlock()
}

// Lookup returns the Deserializer bound to typeID, if any.
func (t *TypeRegistry) Lookup(typeID string) (Deserializer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.deserializers[typeID]

	return d, ok
}

// lookupOrError is a small helper shared by ReceiveObject call sites.
func (t *TypeRegistry) lookupOrError(typeID string) (Deserializer, error) {
	d, ok := t.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("replicated: no deserializer registered for type %q", typeID)
	}

	return d, nil
}
