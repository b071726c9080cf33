// Package replicated implements the Replicated-Object RPC facade of
// spec §3-4.5: ReplicatedHandle, ExternalCaller, ShardIterator, and the
// Group that owns their shared RPC/view/storage collaborators. It is
// grounded on the teacher's internal/consensus package, which binds a
// validator's state machine to a dispatch table and a store the same
// way a ReplicatedHandle binds a UserObject to a PersistentRegistry.
package replicated

import (
	"replicore/internal/persistent"
	"replicore/internal/rpc"
)

// UserObject is the opaque, serializable state-machine object a
// ReplicatedHandle owns (spec §3). Serialize must return the object's
// compact wire bytes with no side effects; it backs both signing (via
// the fields a Factory registers) and state transfer.
type UserObject interface {
	Serialize() []byte
}

// GroupAware is the capability a UserObject may implement to receive a
// non-owning back-pointer to the enclosing Group, letting a method body
// re-enter the group to call siblings (spec §9 "back-pointer from user
// object to Group"). The handle calls SetGroup after construction and
// again after ReceiveObject, never relying on inheritance.
type GroupAware interface {
	SetGroup(g *Group)
}

// Factory constructs a fresh UserObject and its method dispatch table
// when a subgroup member is first created, registering whatever
// persistent fields the object needs against registry (spec §3
// Lifecycle: "constructed either with a Factory... or without").
type Factory func(registry *persistent.Registry) (UserObject, *rpc.MethodTable, error)

// Deserializer reconstructs a UserObject and its dispatch table from
// the bytes a peer's send_object/send_object_raw produced, using ctx to
// rebind persistent fields to the local registry (spec §4.5).
type Deserializer func(data []byte, ctx *DeserializeContext) (UserObject, *rpc.MethodTable, error)
