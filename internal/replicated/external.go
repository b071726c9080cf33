package replicated

import (
	"fmt"

	"replicore/internal/metrics"
	"replicore/internal/rpc"
	"replicore/internal/view"
)

// ExternalCaller is structurally identical to a ReplicatedHandle minus
// ownership of a user object and minus ordered_send (spec §4.4): a
// non-member of the shard can still issue p2p_send calls against it.
type ExternalCaller struct {
	nodeID      view.NodeID
	subgroupID  uint32
	typeID      string
	dispatchKey string

	group         *Group
	valid         bool
	maxP2PPayload int
}

// NewExternalCaller constructs a placeholder handle for a non-member of
// subgroupID's shard, addressed as typeID (spec §3 Lifecycle:
// "constructed... without [a Factory]... a non-member placeholder").
func (g *Group) NewExternalCaller(nodeID view.NodeID, subgroupID uint32, typeID string) *ExternalCaller {
	return &ExternalCaller{
		nodeID:        nodeID,
		subgroupID:    subgroupID,
		typeID:        typeID,
		dispatchKey:   dispatchKeyFor(typeID, subgroupID),
		group:         g,
		valid:         true,
		maxP2PPayload: g.maxP2PPayload,
	}
}

// IsValid reports whether the caller is still attached.
func (c *ExternalCaller) IsValid() bool {
	return c != nil && c.valid
}

// P2PSend sends a point-to-point RPC to dest (spec §4.4). P2P to the
// group's local node ID is rejected by assertion (spec §8 boundary
// behavior: "P2P to the local node from an ExternalCaller is rejected").
func (c *ExternalCaller) P2PSend(dest view.NodeID, methodName string, args [][]byte) (*rpc.Pending, error) {
	if !c.valid {
		return nil, rpc.ErrEmptyHandle
	}

	if dest == c.group.localNodeID {
		panic("replicated: ExternalCaller.P2PSend to the local node is not allowed")
	}

	tag := rpc.ComputeTag(c.typeID, methodName)
	wire := rpc.Marshal(tag, args)

	if c.maxP2PPayload > 0 && len(wire) > c.maxP2PPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", rpc.ErrPayloadTooLarge, len(wire), c.maxP2PPayload)
	}

	metrics.P2PPayloadBytes.Observe(float64(len(wire)))

	return c.group.manager.FinishP2PSend(c.dispatchKey, dest, wire)
}

// ShardIterator fans a p2p_send out across a shard's representative
// nodes, one call per representative in a fixed stored order (spec
// §4.4).
type ShardIterator struct {
	caller *ExternalCaller
	reps   []view.NodeID
}

// NewShardIterator builds an iterator over reps using caller's p2p_send.
// At least one representative must be present (spec §4.4).
func NewShardIterator(caller *ExternalCaller, reps []view.NodeID) (*ShardIterator, error) {
	if len(reps) == 0 {
		return nil, fmt.Errorf("replicated: ShardIterator requires at least one representative")
	}

	return &ShardIterator{caller: caller, reps: append([]view.NodeID(nil), reps...)}, nil
}

// P2PSend invokes the caller's P2PSend once per representative in the
// iterator's fixed order, returning one future per representative in
// that same order (spec §4.4, §8 testable property 5).
func (it *ShardIterator) P2PSend(methodName string, args [][]byte) ([]*rpc.Pending, error) {
	results := make([]*rpc.Pending, len(it.reps))

	for i, rep := range it.reps {
		p, err := it.caller.P2PSend(rep, methodName, args)
		if err != nil {
			return nil, fmt.Errorf("replicated: p2p_send to representative %d:\n%w", rep, err)
		}

		results[i] = p
	}

	return results, nil
}

// Representatives returns the iterator's fixed node order.
func (it *ShardIterator) Representatives() []view.NodeID {
	return it.reps
}
