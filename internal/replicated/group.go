package replicated

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"replicore/internal/rpc"
	"replicore/internal/storage"
	"replicore/internal/view"
)

// orderedReplyTypeName is the reserved dispatch-table name an
// ordered_send reply is routed through: every replica that applies an
// ordered delivery sends its result back to the origin node addressed
// to this type rather than the user's own type, so the origin can
// resolve the right QueryResults by sequence number without the user
// object's dispatch table needing to know anything about reply
// routing.
const orderedReplyTypeName = "__ordered_reply__"

// orderedReplyMethodName names the single method registered under
// orderedReplyTypeName.
const orderedReplyMethodName = "deliver"

var orderedReplyTag = rpc.ComputeTag(orderedReplyTypeName, orderedReplyMethodName)

// Group is the non-owning collaborator every ReplicatedHandle in a
// process shares: the view manager, the RPC manager, durable storage,
// the type registry state transfer consults, and the bookkeeping that
// routes ordered-send replies back to their origin (spec §3 "enclosing
// Group", §4.1 step 4). It is grounded on the teacher's
// internal/consensus.Engine, which plays the same "one shared runtime,
// many owned state machines" role for validator rounds.
type Group struct {
	localNodeID view.NodeID
	views       *view.Manager
	manager     *rpc.Manager
	db          *storage.Storage

	typeRegistry *TypeRegistry

	// frontierProvider resolves a subgroup's global stability frontier
	// on behalf of every handle's ComputeGlobalStabilityFrontier call.
	// It is an external collaborator (the view manager's own stability
	// computation) rather than something this package implements.
	frontierProvider func(subgroupID uint32) int64

	maxP2PPayload int

	mu      sync.Mutex
	handles map[string]*ReplicatedHandle

	seq uint64 // atomic: next ordered-send sequence number

	trackersMu sync.Mutex
	trackers   map[uint64]*rpc.QueryResults
}

// GroupConfig bundles the external collaborators a Group wires
// together (spec §6's consumed interfaces, plus the
// max_p2p_request_payload_size configuration option).
type GroupConfig struct {
	LocalNodeID          view.NodeID
	Views                *view.Manager
	Manager              *rpc.Manager
	DB                   *storage.Storage
	MaxP2PRequestPayload int
	FrontierProvider     func(subgroupID uint32) int64
}

// NewGroup constructs a Group and registers its reserved ordered-reply
// dispatch table with the RPC manager.
func NewGroup(cfg GroupConfig) *Group {
	g := &Group{
		localNodeID:      cfg.LocalNodeID,
		views:            cfg.Views,
		manager:          cfg.Manager,
		db:               cfg.DB,
		typeRegistry:     NewTypeRegistry(),
		frontierProvider: cfg.FrontierProvider,
		maxP2PPayload:    cfg.MaxP2PRequestPayload,
		handles:          make(map[string]*ReplicatedHandle),
		trackers:         make(map[uint64]*rpc.QueryResults),
	}

	table := rpc.NewMethodTable()
	table.Register(orderedReplyTag, g.handleOrderedReply)
	g.manager.MakeRemoteInvocableClass(orderedReplyTypeName, table)

	return g
}

// TypeRegistry exposes the group's deserializer registry so Deserialize
// functions can be registered before any ReceiveObject call needs them.
func (g *Group) TypeRegistry() *TypeRegistry {
	return g.typeRegistry
}

// LocalNodeID returns the node this group's process represents.
func (g *Group) LocalNodeID() view.NodeID {
	return g.localNodeID
}

func (g *Group) nextSeq() uint64 {
	return atomic.AddUint64(&g.seq, 1)
}

// registerOrderedTracker opens a reply tracker for an ordered send
// addressed to members, keyed by seq, and returns the QueryResults the
// caller hands back to its own caller.
func (g *Group) registerOrderedTracker(seq uint64, members []view.NodeID) *rpc.QueryResults {
	targets := make([]int32, len(members))
	for i, m := range members {
		targets[i] = int32(m)
	}

	q := rpc.NewQueryResultsForTargets(targets)

	g.trackersMu.Lock()
	g.trackers[seq] = q
	g.trackersMu.Unlock()

	return q
}

// forgetOrderedTracker drops a tracker once its caller is done waiting
// on it, so g.trackers does not grow without bound.
func (g *Group) forgetOrderedTracker(seq uint64) {
	g.trackersMu.Lock()
	delete(g.trackers, seq)
	g.trackersMu.Unlock()
}

// handleOrderedReply is the MethodFunc bound to orderedReplyTag: it
// decodes [8 bytes seq][4 bytes replying node][result bytes] and
// resolves the matching tracker's future for that node.
func (g *Group) handleOrderedReply(args [][]byte) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("replicated: malformed ordered-reply envelope")
	}

	payload := args[0]
	if len(payload) < 12 {
		return nil, fmt.Errorf("replicated: ordered-reply payload too short")
	}

	seq := binary.BigEndian.Uint64(payload[0:8])
	node := int32(binary.BigEndian.Uint32(payload[8:12]))
	result := payload[12:]

	g.trackersMu.Lock()
	q, ok := g.trackers[seq]
	g.trackersMu.Unlock()

	if ok {
		q.Resolve(node, result, nil)
	}

	return nil, nil
}

// registerHandle records h under its (type, subgroup) dispatch key so
// Close/Move can find and remove it later, and so two shards of the
// same replicated type never clobber each other's bookkeeping entry.
func (g *Group) registerHandle(dispatchKey string, h *ReplicatedHandle) {
	g.mu.Lock()
	g.handles[dispatchKey] = h
	g.mu.Unlock()
}

// forgetHandle removes a handle's bookkeeping entry (spec invariant 5:
// "destruction of a valid handle removes its RPC registration exactly
// once").
func (g *Group) forgetHandle(dispatchKey string) {
	g.mu.Lock()
	delete(g.handles, dispatchKey)
	g.mu.Unlock()
}

// Handle returns the registered handle for the (type, subgroup) pair
// identified by typeID and subgroupID, if any, for callers that need to
// look one up rather than holding their own reference.
func (g *Group) Handle(typeID string, subgroupID uint32) (*ReplicatedHandle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.handles[dispatchKeyFor(typeID, subgroupID)]

	return h, ok
}

// dispatchKeyFor derives the RPC manager registration name for a
// (type, subgroup) pair. The manager's dispatch tables are keyed purely
// by name, but spec §4.3/§6 register a method table per (type_id,
// subgroup_id): several shards of the same replicated type must not
// clobber each other's table, so the name handed to the manager folds
// the subgroup in rather than the bare type identity.
func dispatchKeyFor(typeID string, subgroupID uint32) string {
	return fmt.Sprintf("%s#%d", typeID, subgroupID)
}

// stabilityFrontier resolves subgroupID's frontier via the configured
// provider, or -1 if none was configured (spec §4.1
// computeGlobalStabilityFrontier: "delegate to the view manager").
func (g *Group) stabilityFrontier(subgroupID uint32) int64 {
	if g.frontierProvider == nil {
		return -1
	}

	return g.frontierProvider(subgroupID)
}
