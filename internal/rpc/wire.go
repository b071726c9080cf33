// Package rpc implements the Invocable Wrapper and method-dispatch
// tables of spec §4.3: per-type tag assignment, request/response
// marshalling, and the send-side plumbing ordered_send/p2p_send hand
// their filled buffers to. It is grounded on the teacher's
// internal/podvm host-call framing (now internal/wasmobj), generalized
// from "one WASM guest's argument list" to "any registered method on
// any replicated object".
package rpc

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Tag identifies one (type, method) pair across the whole deployment.
// Tags are derived rather than assigned, so every node computes the
// same value for a given type/method name pair without a registry
// round-trip (spec §4.3).
type Tag uint64

// ComputeTag derives a method's wire tag from its type and method name
// using BLAKE3, truncated to 8 bytes. A collision between two
// (type, method) names would silently misroute calls; in practice this
// is the same birthday-bound tradeoff the teacher accepts for gossip
// message IDs.
func ComputeTag(typeName, methodName string) Tag {
	h := blake3.New()
	h.Write([]byte(typeName))
	h.Write([]byte{0})
	h.Write([]byte(methodName))

	var sum [8]byte
	h.Sum(sum[:0])

	return Tag(binary.BigEndian.Uint64(sum[:]))
}

// MethodFunc is a dispatchable method body: decoded arguments in,
// result bytes (or an error) out. UserObject implementations (such as
// wasmobj.Object.Invoke) are adapted into a MethodFunc by the
// replicated-object layer that registers them.
type MethodFunc func(args [][]byte) ([]byte, error)

// MethodTable maps a type's tags to their method bodies (spec §4.3).
type MethodTable struct {
	methods map[Tag]MethodFunc
}

// NewMethodTable creates an empty dispatch table.
func NewMethodTable() *MethodTable {
	return &MethodTable{methods: make(map[Tag]MethodFunc)}
}

// Register binds a tag to a method body. A later call for the same tag
// replaces the earlier one, matching how re-registration behaves for
// object state-transfer reload.
func (t *MethodTable) Register(tag Tag, fn MethodFunc) {
	t.methods[tag] = fn
}

// Lookup returns the method body bound to tag, if any.
func (t *MethodTable) Lookup(tag Tag) (MethodFunc, bool) {
	fn, ok := t.methods[tag]
	return fn, ok
}

// Dispatch decodes a wire-format call and invokes the bound method.
func (t *MethodTable) Dispatch(wire []byte) ([]byte, error) {
	tag, args, err := Unmarshal(wire)
	if err != nil {
		return nil, err
	}

	fn, ok := t.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownTag, tag)
	}

	return fn(args)
}

// wireHeaderSize is the fixed [8 bytes tag][4 bytes argc] prefix.
const wireHeaderSize = 12

// SizeFor computes the exact wire size of a call, used by ordered_send
// and p2p_send to size the buffer they ask the transport for before
// marshalling into it (spec §4.1 step 1: "probe the payload size").
func SizeFor(args [][]byte) int {
	size := wireHeaderSize
	for _, a := range args {
		size += 4 + len(a)
	}

	return size
}

// Marshal encodes tag and args as
// [8 bytes tag][4 bytes argc][per-arg: 4 bytes length + bytes]
// into a freshly allocated buffer.
func Marshal(tag Tag, args [][]byte) []byte {
	buf := make([]byte, SizeFor(args))
	if err := Fill(buf, tag, args); err != nil {
		// Fill only fails on an undersized buffer, which cannot happen
		// here since buf was sized by SizeFor itself.
		panic(err)
	}

	return buf
}

// Fill writes tag and args into a caller-provided buffer, the shape
// ordered_send/p2p_send use once the transport hands back a
// size-exact send buffer (spec §4.1 step 4). Returns ErrPayloadTooLarge
// if buf is smaller than SizeFor(args) would require.
func Fill(buf []byte, tag Tag, args [][]byte) error {
	need := SizeFor(args)
	if len(buf) < need {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrPayloadTooLarge, need, len(buf))
	}

	binary.BigEndian.PutUint64(buf[0:8], uint64(tag))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(args)))

	off := wireHeaderSize
	for _, a := range args {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(a)))
		off += 4
		copy(buf[off:], a)
		off += len(a)
	}

	return nil
}

// Unmarshal decodes a wire-format call back into its tag and argument
// list. The returned slices alias wire; callers that retain them past
// the buffer's lifetime must copy.
func Unmarshal(wire []byte) (Tag, [][]byte, error) {
	if len(wire) < wireHeaderSize {
		return 0, nil, fmt.Errorf("rpc: wire buffer too short for header (%d bytes)", len(wire))
	}

	tag := Tag(binary.BigEndian.Uint64(wire[0:8]))
	argc := binary.BigEndian.Uint32(wire[8:12])

	args := make([][]byte, 0, argc)
	off := wireHeaderSize

	for i := uint32(0); i < argc; i++ {
		if off+4 > len(wire) {
			return 0, nil, fmt.Errorf("rpc: truncated argument length at index %d", i)
		}

		n := int(binary.BigEndian.Uint32(wire[off : off+4]))
		off += 4

		if off+n > len(wire) {
			return 0, nil, fmt.Errorf("rpc: truncated argument bytes at index %d", i)
		}

		args = append(args, wire[off:off+n])
		off += n
	}

	return tag, args, nil
}
