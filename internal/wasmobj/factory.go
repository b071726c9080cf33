package wasmobj

import (
	"encoding/binary"
	"fmt"

	"replicore/internal/persistent"
	"replicore/internal/replicated"
	"replicore/internal/rpc"
)

// invokeMethodName is the single tag a WASM-backed replicated object
// registers in its method table: the sandboxed guest owns its own
// method dispatch, so the core only ever needs one entry point into
// it, demonstrating that a UserObject's internals (here, a compiled
// module plus a gas meter) stay opaque to the replicated-object layer.
const invokeMethodName = "__wasm_invoke__"

// Serialize returns a stable fingerprint of the loaded module: its
// blake3-derived module ID. The guest's own linear-memory state is not
// snapshotted here; a real deployment would export a "serialize"
// guest function and call it the same way Invoke calls "execute".
func (o *Object) Serialize() []byte {
	return append([]byte(nil), o.moduleID[:]...)
}

// NewFactory returns a replicated.Factory that compiles wasmBytes into
// a fresh Object per shard member and exposes it through one reserved
// dispatch tag. The registry argument is accepted for signature
// compatibility; a WASM guest has no PersistentFields of its own to
// register.
func NewFactory(typeID string, wasmBytes []byte) replicated.Factory {
	return func(_ *persistent.Registry) (replicated.UserObject, *rpc.MethodTable, error) {
		obj, err := NewObject(wasmBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("wasmobj: load module:\n%w", err)
		}

		table := rpc.NewMethodTable()
		table.Register(rpc.ComputeTag(typeID, invokeMethodName), obj.dispatch)

		return obj, table, nil
	}
}

// dispatch unwraps the [8 bytes inner tag][payload] envelope an
// outer Invoke call carries and runs it against the guest module.
func (o *Object) dispatch(args [][]byte) ([]byte, error) {
	if len(args) != 1 || len(args[0]) < 8 {
		return nil, fmt.Errorf("wasmobj: malformed invoke envelope")
	}

	tag := binary.BigEndian.Uint64(args[0][:8])

	return o.Invoke(tag, [][]byte{args[0][8:]})
}
