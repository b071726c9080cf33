package replicated

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"replicore/internal/metrics"
	"replicore/internal/persistent"
	"replicore/internal/rpc"
	"replicore/internal/signing"
	"replicore/internal/view"
)

// orderedDispatchMethodName names the reserved tag every ReplicatedHandle
// registers in its own method table to receive ordered-multicast
// deliveries: wraps the sequence number, origin node, and the user
// call's own wire bytes, so the table that answers p2p_send calls also
// answers ordered_send deliveries without a second registration path.
const orderedDispatchMethodName = "__ordered_dispatch__"

// nextVersionMailbox is the one-slot mailbox post_next_version/
// get_next_version share (spec §4.1, §5: "set by the ordered-multicast
// delivery path before the user method is invoked, read by the user
// method").
type nextVersionMailbox struct {
	mu      sync.Mutex
	version int64
	tsUs    int64
	set     bool
}

// ReplicatedHandle owns a UserObject and its PersistentRegistry, and
// exposes ordered_send/p2p_send/send against a shared Group (spec §3,
// §4.1). It is grounded on the teacher's internal/consensus validator
// binding, generalized from "one validator's state machine" to "one
// replicated object", with the moved-from/valid discipline spec §9
// calls for since Go has no move constructors to lean on.
type ReplicatedHandle struct {
	nodeID        view.NodeID
	subgroupID    uint32
	subgroupIndex uint32
	shardNum      uint32
	typeID        string
	dispatchKey   string // typeID folded with subgroupID; see dispatchKeyFor

	obj      UserObject
	registry *persistent.Registry

	signer        signing.Signer
	signatureSize int

	group *Group // non-owning

	valid       bool
	methodTable *rpc.MethodTable

	orderedDispatchTag rpc.Tag
	maxP2PPayload      int

	mailbox nextVersionMailbox
}

// newReplicatedHandle builds the handle for Group.NewReplicatedHandle
// (Factory-backed, member of the shard). Group.NewExternalCaller builds
// its own ExternalCaller struct and does not use this path.
func newReplicatedHandle(g *Group, nodeID view.NodeID, subgroupID, subgroupIndex, shardNum uint32, typeID string, obj UserObject, registry *persistent.Registry, table *rpc.MethodTable, signer signing.Signer) *ReplicatedHandle {
	h := &ReplicatedHandle{
		nodeID:        nodeID,
		subgroupID:    subgroupID,
		subgroupIndex: subgroupIndex,
		shardNum:      shardNum,
		typeID:        typeID,
		dispatchKey:   dispatchKeyFor(typeID, subgroupID),
		obj:           obj,
		registry:      registry,
		signer:        signer,
		group:         g,
		valid:         true,
		methodTable:   table,
		maxP2PPayload: g.maxP2PPayload,
	}

	if signer != nil {
		h.signatureSize = signer.MaxSignatureSize()
	}

	h.orderedDispatchTag = rpc.ComputeTag(typeID, orderedDispatchMethodName)
	table.Register(h.orderedDispatchTag, h.dispatchOrderedDelivery)

	if registry != nil {
		registry.SetFrontierProvider(func() int64 {
			return g.stabilityFrontier(subgroupID)
		})
	}

	if ga, ok := obj.(GroupAware); ok {
		ga.SetGroup(g)
	}

	return h
}

// NewReplicatedHandle constructs a handle that is a member of the
// shard: factory builds the user object and its dispatch table, and the
// resulting handle is registered with the RPC manager under its
// dispatch key, typeID#subgroupID (spec §3 Lifecycle: "constructed ... with a Factory").
func (g *Group) NewReplicatedHandle(nodeID view.NodeID, subgroupID, subgroupIndex, shardNum uint32, typeID string, factory Factory, signer signing.Signer) (*ReplicatedHandle, error) {
	registry := persistent.NewRegistry(typeID, subgroupIndex, shardNum, g.db)

	obj, table, err := factory(registry)
	if err != nil {
		return nil, fmt.Errorf("replicated: factory for %q failed:\n%w", typeID, err)
	}

	h := newReplicatedHandle(g, nodeID, subgroupID, subgroupIndex, shardNum, typeID, obj, registry, table, signer)

	g.manager.MakeRemoteInvocableClass(h.dispatchKey, table)
	g.registerHandle(h.dispatchKey, h)

	return h, nil
}

// IsValid reports whether the handle still owns a live user object
// (spec §4.1 "Validity").
func (h *ReplicatedHandle) IsValid() bool {
	return h != nil && h.valid
}

// Move transfers ownership of the user object, registry, and dispatch
// table to a new handle value, leaving the receiver moved-from (spec §3
// Lifecycle, §9 "moved-from handle detection"). The receiver must not be
// used for sends afterward; IsValid reports false on it.
func (h *ReplicatedHandle) Move() *ReplicatedHandle {
	if !h.valid {
		return &ReplicatedHandle{}
	}

	moved := &ReplicatedHandle{
		nodeID:             h.nodeID,
		subgroupID:         h.subgroupID,
		subgroupIndex:      h.subgroupIndex,
		shardNum:           h.shardNum,
		typeID:             h.typeID,
		dispatchKey:        h.dispatchKey,
		obj:                h.obj,
		registry:           h.registry,
		signer:             h.signer,
		signatureSize:      h.signatureSize,
		group:              h.group,
		valid:              true,
		methodTable:        h.methodTable,
		orderedDispatchTag: h.orderedDispatchTag,
		maxP2PPayload:      h.maxP2PPayload,
	}

	if moved.registry != nil {
		moved.registry.SetFrontierProvider(func() int64 {
			return moved.group.stabilityFrontier(moved.subgroupID)
		})
	}

	h.valid = false
	h.obj = nil
	h.registry = nil
	h.methodTable = nil

	h.group.mu.Lock()
	if h.group.handles[h.dispatchKey] == h {
		h.group.handles[h.dispatchKey] = moved
	}
	h.group.mu.Unlock()

	return moved
}

// Close deregisters the handle from the RPC manager exactly once (spec
// invariant 5). It is a no-op on a moved-from handle.
func (h *ReplicatedHandle) Close() {
	if !h.valid {
		return
	}

	h.group.manager.DestroyRemoteInvocableClass(h.dispatchKey)
	h.group.forgetHandle(h.dispatchKey)
	h.valid = false
}

// OrderedSend publishes a totally-ordered multicast of methodName with
// args to every current member of the shard (spec §4.1 "Ordered-send
// algorithm"). It holds the view manager's shared lock for the entire
// probe/wait/fill cycle, exactly the property testable property 6
// requires, and registers a reply tracker keyed by a fresh sequence
// number before releasing it.
func (h *ReplicatedHandle) OrderedSend(methodName string, args [][]byte) (*rpc.QueryResults, error) {
	if !h.valid {
		return nil, rpc.ErrEmptyHandle
	}

	userTag := rpc.ComputeTag(h.typeID, methodName)
	innerWire := rpc.Marshal(userTag, args)

	seq := h.group.nextSeq()

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	var originBuf [4]byte
	binary.BigEndian.PutUint32(originBuf[:], uint32(h.nodeID))

	outerArgs := [][]byte{seqBuf[:], originBuf[:], innerWire}
	size := rpc.SizeFor(outerArgs)

	h.group.views.RLock()
	defer metrics.Timer(metrics.ViewLockHoldSeconds)()
	defer h.group.views.RUnlock()

	for {
		v := h.group.views.CurrentLocked()

		// The tracker exists before the send so a fast (e.g. local)
		// reply cannot arrive ahead of it.
		q := h.group.registerOrderedTracker(seq, v.Members)

		ok, err := h.group.manager.TryOrderedSend(h.dispatchKey, h.subgroupID, size, func(buf []byte) error {
			return rpc.Fill(buf, h.orderedDispatchTag, outerArgs)
		})
		if err != nil {
			h.group.forgetOrderedTracker(seq)
			return nil, err
		}

		if ok {
			return q, nil
		}

		h.group.views.Wait()
	}
}

// dispatchOrderedDelivery is the MethodFunc bound to
// orderedDispatchTag: it unwraps the envelope an OrderedSend built,
// invokes the addressed user method locally, and routes the result back
// to the origin node: directly into the group's tracker when the origin
// is this node, otherwise as a one-way reply.
func (h *ReplicatedHandle) dispatchOrderedDelivery(args [][]byte) ([]byte, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("replicated: malformed ordered dispatch envelope")
	}

	if len(args[0]) != 8 || len(args[1]) != 4 {
		return nil, fmt.Errorf("replicated: malformed ordered dispatch header")
	}

	seq := binary.BigEndian.Uint64(args[0])
	origin := view.NodeID(int32(binary.BigEndian.Uint32(args[1])))
	innerWire := args[2]

	result, callErr := h.methodTable.Dispatch(innerWire)

	reply := make([]byte, 12+len(result))
	binary.BigEndian.PutUint64(reply[0:8], seq)
	binary.BigEndian.PutUint32(reply[8:12], uint32(h.nodeID))
	copy(reply[12:], result)

	if origin == h.group.localNodeID {
		_, _ = h.group.handleOrderedReply([][]byte{reply})
		return nil, callErr
	}

	replyWire := rpc.Marshal(orderedReplyTag, [][]byte{reply})
	_ = h.group.manager.SendOneWay(orderedReplyTypeName, origin, replyWire)

	return nil, callErr
}

// P2PSend sends a point-to-point RPC to dest, one member of the current
// view (spec §4.1 "P2P-send algorithm"). Rejects with ErrInvalidNode if
// dest is not a current member, and with ErrPayloadTooLarge if the
// marshalled call exceeds the configured maximum.
func (h *ReplicatedHandle) P2PSend(dest view.NodeID, methodName string, args [][]byte) (*rpc.Pending, error) {
	if !h.valid {
		return nil, rpc.ErrEmptyHandle
	}

	tag := rpc.ComputeTag(h.typeID, methodName)
	wire := rpc.Marshal(tag, args)

	if h.maxP2PPayload > 0 && len(wire) > h.maxP2PPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", rpc.ErrPayloadTooLarge, len(wire), h.maxP2PPayload)
	}

	metrics.P2PPayloadBytes.Observe(float64(len(wire)))

	return h.group.manager.FinishP2PSend(h.dispatchKey, dest, wire)
}

// Send is the raw path: it asks the view manager to transport a
// size-byte payload whose body fill writes directly, bypassing the
// tagged-method envelope ordered_send/p2p_send use (spec §4.1 "send").
func (h *ReplicatedHandle) Send(size int, fill func([]byte) error) (bool, error) {
	if !h.valid {
		return false, rpc.ErrEmptyHandle
	}

	h.group.views.RLock()
	defer metrics.Timer(metrics.ViewLockHoldSeconds)()
	defer h.group.views.RUnlock()

	for {
		ok, err := h.group.manager.TryOrderedSend(h.dispatchKey, h.subgroupID, size, fill)
		if err != nil || ok {
			return ok, err
		}

		h.group.views.Wait()
	}
}

// MakeVersion fans makeVersion(v, hlc) out to the registry (spec §4.2).
func (h *ReplicatedHandle) MakeVersion(v int64, hlc persistent.HLC) error {
	if !h.valid {
		return rpc.ErrEmptyHandle
	}

	h.registry.MakeVersion(v, hlc)

	return nil
}

// Persist flushes the registry up to v and, if signing is enabled,
// extends the signature chain to cover it. Signing runs before the
// flush: Field.Persist marks an entry persisted and never re-encodes
// it on a later call, so a signature attached after the flush would
// never reach durable storage. The original source signs first for
// the same reason (replicated_impl.hpp's make_version/persist path).
func (h *ReplicatedHandle) Persist(v int64) ([]byte, error) {
	if !h.valid {
		return nil, rpc.ErrEmptyHandle
	}

	if h.signer != nil {
		if err := h.registry.Sign(v, h.signer); err != nil {
			return nil, err
		}
	}

	if err := h.registry.Persist(v); err != nil {
		return nil, err
	}

	if h.signer == nil {
		return nil, nil
	}

	return h.registry.LastSignature(), nil
}

// Trim discards registry versions strictly older than earliest.
func (h *ReplicatedHandle) Trim(earliest int64) error {
	if !h.valid {
		return rpc.ErrEmptyHandle
	}

	return h.registry.Trim(earliest)
}

// Truncate discards registry versions strictly newer than latest.
func (h *ReplicatedHandle) Truncate(latest int64) error {
	if !h.valid {
		return rpc.ErrEmptyHandle
	}

	return h.registry.Truncate(latest)
}

// MinLatestPersisted returns the registry's minimum "latest persisted"
// marker across fields.
func (h *ReplicatedHandle) MinLatestPersisted() int64 {
	if !h.valid {
		return persistent.InvalidVersion
	}

	return h.registry.MinLatestPersisted()
}

// PostNextVersion is called by the ordered-multicast delivery path
// before invoking the user method, so the method body can discover the
// version it is producing via GetNextVersion (spec §4.1, §5).
func (h *ReplicatedHandle) PostNextVersion(v int64, tsUs int64) {
	h.mailbox.mu.Lock()
	h.mailbox.version = v
	h.mailbox.tsUs = tsUs
	h.mailbox.set = true
	h.mailbox.mu.Unlock()
}

// GetNextVersion reads the mailbox PostNextVersion most recently set.
// Returns persistent.InvalidVersion, 0 if nothing has been posted yet.
func (h *ReplicatedHandle) GetNextVersion() (int64, int64) {
	h.mailbox.mu.Lock()
	defer h.mailbox.mu.Unlock()

	if !h.mailbox.set {
		return persistent.InvalidVersion, 0
	}

	return h.mailbox.version, h.mailbox.tsUs
}

// ComputeGlobalStabilityFrontier delegates to the group's configured
// frontier provider (spec §4.1: "delegate to the view manager").
func (h *ReplicatedHandle) ComputeGlobalStabilityFrontier() int64 {
	if !h.valid {
		return persistent.InvalidVersion
	}

	return h.group.stabilityFrontier(h.subgroupID)
}

// ObjectSize returns the length of the compressed wire bytes
// send_object/send_object_raw would transmit (spec §4.5).
func (h *ReplicatedHandle) ObjectSize() (int, error) {
	if !h.valid {
		return 0, rpc.ErrEmptyHandle
	}

	compressed, err := compressObject(h.obj.Serialize())
	if err != nil {
		return 0, err
	}

	return len(compressed), nil
}

// SendObjectRaw streams the compressed object bytes to w with no size
// prefix, for a receiver that already knows the size out of band (spec
// §4.5).
func (h *ReplicatedHandle) SendObjectRaw(w io.Writer) error {
	if !h.valid {
		return rpc.ErrEmptyHandle
	}

	compressed, err := compressObject(h.obj.Serialize())
	if err != nil {
		return err
	}

	_, err = w.Write(compressed)

	return err
}

// SendObject streams a little-endian size prefix followed by the
// compressed object bytes (spec §4.5).
func (h *ReplicatedHandle) SendObject(w io.Writer) error {
	if !h.valid {
		return rpc.ErrEmptyHandle
	}

	compressed, err := compressObject(h.obj.Serialize())
	if err != nil {
		return err
	}

	var sizePrefix [4]byte
	binary.LittleEndian.PutUint32(sizePrefix[:], uint32(len(compressed)))

	if _, err := w.Write(sizePrefix[:]); err != nil {
		return err
	}

	_, err = w.Write(compressed)

	return err
}

// ReceiveObject deserializes buf (compressed wire bytes, no size
// prefix) into this handle's user object, using a DeserializeContext
// seeded with the handle's own registry so persistent fields rebind to
// it, and reinstalls the GroupAware back-pointer if the object declares
// the capability (spec §4.5). Returns the number of compressed bytes
// consumed.
func (h *ReplicatedHandle) ReceiveObject(buf []byte) (int, error) {
	if !h.valid {
		return 0, rpc.ErrEmptyHandle
	}

	deser, err := h.group.typeRegistry.lookupOrError(h.typeID)
	if err != nil {
		return 0, err
	}

	data, err := decompressObject(buf)
	if err != nil {
		return 0, err
	}

	ctx := &DeserializeContext{Registry: h.registry, Types: h.group.typeRegistry}

	obj, table, err := deser(data, ctx)
	if err != nil {
		return 0, err
	}

	if ga, ok := obj.(GroupAware); ok {
		ga.SetGroup(h.group)
	}

	table.Register(h.orderedDispatchTag, h.dispatchOrderedDelivery)

	h.obj = obj
	h.methodTable = table

	h.group.manager.MakeRemoteInvocableClass(h.dispatchKey, table)

	return len(buf), nil
}
