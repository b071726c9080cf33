package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"replicore/internal/transport"
	"replicore/internal/view"
)

// Manager is the RPC Manager collaborator of spec §6: it owns the
// per-type dispatch tables, hands ordered_send/p2p_send their
// size-exact send buffers, and resolves the futures a p2p_send
// returns once a reply arrives. It is grounded on the teacher's
// internal/network request/response plumbing (Peer.Request,
// Node.OnRequest), generalized from "one flat message handler" to
// "one dispatch table per replicated type".
type Manager struct {
	node      *transport.Node
	multicast *transport.Multicast
	views     *view.Manager

	directoryMu sync.RWMutex
	directory   map[view.NodeID]ed25519.PublicKey

	classesMu sync.RWMutex
	classes   map[string]*MethodTable
}

// NewManager wires a dispatch manager to a transport node, its
// multicast adapter, and the view manager whose membership resolves
// node IDs to transport identities.
func NewManager(node *transport.Node, multicast *transport.Multicast, views *view.Manager) *Manager {
	m := &Manager{
		node:      node,
		multicast: multicast,
		views:     views,
		directory: make(map[view.NodeID]ed25519.PublicKey),
		classes:   make(map[string]*MethodTable),
	}

	node.OnRequest(m.handleRequest)
	node.OnMessage(m.handleMessage)

	return m
}

// SetDirectoryEntry records which transport public key a NodeID
// resolves to. The view manager tracks membership; identity-to-address
// resolution is this module's concern, mirroring how the teacher's
// Node.knownAddrs is populated out-of-band from discovery.
func (m *Manager) SetDirectoryEntry(node view.NodeID, pub ed25519.PublicKey) {
	m.directoryMu.Lock()
	m.directory[node] = pub
	m.directoryMu.Unlock()
}

// MakeRemoteInvocableClass registers typeName's dispatch table, making
// its methods callable over both ordered_send (multicast) and
// p2p_send (unicast) paths (spec §4.3, §6).
func (m *Manager) MakeRemoteInvocableClass(typeName string, table *MethodTable) {
	m.classesMu.Lock()
	defer m.classesMu.Unlock()

	m.classes[typeName] = table
}

// DestroyRemoteInvocableClass removes typeName's dispatch table.
func (m *Manager) DestroyRemoteInvocableClass(typeName string) {
	m.classesMu.Lock()
	defer m.classesMu.Unlock()

	delete(m.classes, typeName)
}

// GetSendBufferPtr allocates a size-exact buffer for an ordered send.
// OrderedSend does not call it: TryOrderedSend's multicast TrySend
// allocates its own buffer. subgroupID is accepted for parity
// with the teacher's per-subgroup buffer pools even though this
// implementation allocates fresh per call.
func (m *Manager) GetSendBufferPtr(subgroupID uint32, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrPayloadTooLarge)
	}

	return make([]byte, size), nil
}

// TryOrderedSend is the single-attempt predicate spec §4.1 step 3
// describes as "transport.try_send(subgroup_id, size, fill_fn) returns
// success": a false,nil result means the send window is full and the
// caller (which owns the view-lock/wait-loop discipline) should wait
// for a signal and retry; a non-nil error means fill itself failed. It
// does not wait for replies: ordered multicast calls are fire-and-forget
// from the RPC layer's perspective, durability and ordering being the
// replicated layer's concern.
func (m *Manager) TryOrderedSend(typeName string, subgroupID uint32, size int, fill func([]byte) error) (bool, error) {
	header := envelopeHeaderSize(typeName)

	return m.multicast.TrySend(subgroupID, header+size, func(dst []byte) error {
		writeEnvelopeHeader(dst, typeName)
		if err := fill(dst[header:]); err != nil {
			return err
		}

		// The local node is itself a replica of the shard, but
		// transport.Broadcast only reaches already-connected remote
		// peers. Deliver the same envelope to this node's own dispatch
		// table so an ordered send's local replica applies it exactly
		// like every other member.
		envelope := append([]byte(nil), dst...)
		go m.handleMessage(nil, envelope)

		return nil
	})
}

// FinishP2PSend delivers a filled p2p buffer, addressed to typeName's
// dispatch table on node, and returns a future for its reply (spec
// §4.1 p2p_send, §7 InvalidNode).
func (m *Manager) FinishP2PSend(typeName string, node view.NodeID, buf []byte) (*Pending, error) {
	if !m.views.Current().Contains(node) {
		return nil, fmt.Errorf("%w: node %d", ErrInvalidNode, node)
	}

	m.directoryMu.RLock()
	pub, ok := m.directory[node]
	m.directoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: node %d has no known transport identity", ErrInvalidNode, node)
	}

	peer := m.node.GetPeer(pub)
	if peer == nil {
		return nil, fmt.Errorf("%w: node %d is not connected", ErrInvalidNode, node)
	}

	envelope := WrapEnvelope(typeName, buf)
	p := newPending()

	go func() {
		reply, err := peer.Request(context.Background(), envelope)
		p.resolve(reply, err)
	}()

	return p, nil
}

// SendOneWay delivers buf to typeName's dispatch table on node over a
// fire-and-forget unidirectional stream, with no reply future. This is
// how an ordered_send reply is routed back to the sending node: the
// replica that applied the call sends its result as a one-way message
// addressed to the origin's reserved reply type, rather than blocking
// the replica on a p2p round trip for every member of the multicast.
func (m *Manager) SendOneWay(typeName string, node view.NodeID, buf []byte) error {
	if !m.views.Current().Contains(node) {
		return fmt.Errorf("%w: node %d", ErrInvalidNode, node)
	}

	m.directoryMu.RLock()
	pub, ok := m.directory[node]
	m.directoryMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: node %d has no known transport identity", ErrInvalidNode, node)
	}

	peer := m.node.GetPeer(pub)
	if peer == nil {
		return fmt.Errorf("%w: node %d is not connected", ErrInvalidNode, node)
	}

	return peer.Send(WrapEnvelope(typeName, buf))
}

// handleRequest serves an incoming bidirectional p2p call by
// dispatching it to the addressed type's method table. The wire
// format nests a type-name-prefixed envelope so one node can host
// several replicated types.
func (m *Manager) handleRequest(_ *transport.Peer, data []byte) ([]byte, error) {
	typeName, wire, err := unwrapEnvelope(data)
	if err != nil {
		return nil, err
	}

	m.classesMu.RLock()
	table, ok := m.classes[typeName]
	m.classesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrUnknownTag, typeName)
	}

	return table.Dispatch(wire)
}

// handleMessage serves an incoming ordered-multicast delivery by
// dispatching it the same way as a p2p call, discarding any result
// (ordered sends have no reply channel).
func (m *Manager) handleMessage(_ *transport.Peer, data []byte) {
	typeName, wire, err := unwrapEnvelope(data)
	if err != nil {
		return
	}

	m.classesMu.RLock()
	table, ok := m.classes[typeName]
	m.classesMu.RUnlock()

	if !ok {
		return
	}

	_, _ = table.Dispatch(wire)
}
