package wasmobj

import (
	"encoding/binary"
	"fmt"
)

// GasLimit is the gas budget given to each method invocation.
const GasLimit = 10_000_000

// Object is a WASM-sandboxed UserObject. It demonstrates that the
// replicated-object core only needs a tagged-method table from a user
// object — the object's internal representation (here, a compiled WASM
// module plus a gas meter) stays opaque to the core.
type Object struct {
	pool     *Pool
	moduleID [32]byte
}

// NewObject compiles wasmBytes and returns an Object ready for dispatch.
func NewObject(wasmBytes []byte) (*Object, error) {
	pool := New()

	id, err := pool.Load(wasmBytes, nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load wasm module:\n%w", err)
	}

	return &Object{pool: pool, moduleID: id}, nil
}

// Close releases the underlying wazero runtime.
func (o *Object) Close() error {
	return o.pool.Close()
}

// Invoke runs the sandboxed "execute" entrypoint with the given
// method tag and arguments and returns its raw output bytes.
//
// Input framing: [8 bytes tag][4 bytes argc][per-arg: 4 bytes length + bytes],
// the same layout rpc.Marshal produces, so the guest module decodes
// dispatch calls with the identical wire format the core uses between
// nodes.
func (o *Object) Invoke(tag uint64, args [][]byte) ([]byte, error) {
	input := encodeInput(tag, args)

	output, _, err := o.pool.Execute(o.moduleID, input, GasLimit)
	if err != nil {
		return nil, fmt.Errorf("execute wasm method:\n%w", err)
	}

	return output, nil
}

// encodeInput frames a tag and argument list for the WASM guest.
func encodeInput(tag uint64, args [][]byte) []byte {
	size := 12
	for _, a := range args {
		size += 4 + len(a)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[0:8], tag)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(args)))

	off := 12
	for _, a := range args {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(a)))
		off += 4
		copy(buf[off:], a)
		off += len(a)
	}

	return buf
}
