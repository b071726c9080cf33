package rpc

import (
	"encoding/binary"
	"fmt"
)

// WrapEnvelope prefixes a marshalled call with its target type's name,
// so one transport node can host dispatch tables for several
// replicated types: [4 bytes name len][name][wire].
func WrapEnvelope(typeName string, wire []byte) []byte {
	buf := make([]byte, envelopeHeaderSize(typeName)+len(wire))
	writeEnvelopeHeader(buf, typeName)
	copy(buf[envelopeHeaderSize(typeName):], wire)

	return buf
}

// envelopeHeaderSize returns the byte length of the [4 bytes name
// len][name] header for typeName.
func envelopeHeaderSize(typeName string) int {
	return 4 + len(typeName)
}

// writeEnvelopeHeader writes the envelope header for typeName into the
// front of dst, which must be at least envelopeHeaderSize(typeName)
// bytes long.
func writeEnvelopeHeader(dst []byte, typeName string) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(typeName)))
	copy(dst[4:], typeName)
}

// unwrapEnvelope splits an incoming message back into its target type
// name and the wire-format call beneath it.
func unwrapEnvelope(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("rpc: envelope too short for name length")
	}

	n := int(binary.BigEndian.Uint32(data[0:4]))
	if 4+n > len(data) {
		return "", nil, fmt.Errorf("rpc: envelope truncated name")
	}

	return string(data[4 : 4+n]), data[4+n:], nil
}
