package rpc

import "errors"

// ErrEmptyHandle is returned when an operation is attempted on a
// ReplicatedHandle left behind by a move (spec §7: EmptyHandle).
var ErrEmptyHandle = errors.New("rpc: handle is empty (moved-from)")

// ErrInvalidNode is returned when a p2p_send targets a node outside
// the current view (spec §7: InvalidNode).
var ErrInvalidNode = errors.New("rpc: node is not a member of the current view")

// ErrPayloadTooLarge is returned when a marshalled call exceeds the
// configured max_p2p_request_payload_size, or when a send buffer is too
// small for the call written into it (spec §7: PayloadTooLarge). A
// subgroup's multicast payload limit (View.MaxPayloadSizes) is not
// checked.
var ErrPayloadTooLarge = errors.New("rpc: payload exceeds configured size limit")

// ErrHashError is returned when tag computation or any other hashing
// step used by the dispatch path fails (spec §7: HashError).
var ErrHashError = errors.New("rpc: hash computation failed")

// ErrUnknownTag is returned when a received call's tag has no
// registered method in the local MethodTable.
var ErrUnknownTag = errors.New("rpc: no method registered for tag")
