package transport

import (
	"fmt"
	"sync"
)

// defaultWindow is the number of in-flight ordered sends a subgroup
// channel admits before TrySend reports "unavailable" and the caller
// must wait for a slot to free up.
const defaultWindow = 8

// Multicast adapts a Node's best-effort Broadcast into the
// view.MulticastGroup contract: a non-blocking try_send predicate with
// a bounded send window, so ordered_send has something real to wait
// on (spec §4.1 step 3, §5). It is the "multicast/SST transport"
// external collaborator, made concrete for this module rather than
// left abstract.
type Multicast struct {
	node *Node

	mu        sync.Mutex
	subgroups map[uint32]*subgroupChannel

	onSlotFree func() // notified whenever a send completes and frees a slot
}

type subgroupChannel struct {
	sem chan struct{}
}

// NewMulticast wraps node for ordered sends. onSlotFree, if non-nil, is
// invoked after every completed send — cmd/replnode wires this to the
// view manager's Broadcast so senders waiting on a full window wake up
// and re-check the predicate.
func NewMulticast(node *Node, onSlotFree func()) *Multicast {
	return &Multicast{
		node:       node,
		subgroups:  make(map[uint32]*subgroupChannel),
		onSlotFree: onSlotFree,
	}
}

// RegisterSubgroup creates the send window for a subgroup. window <= 0
// uses defaultWindow.
func (m *Multicast) RegisterSubgroup(subgroupID uint32, window int) {
	if window <= 0 {
		window = defaultWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subgroups[subgroupID]; exists {
		return
	}

	m.subgroups[subgroupID] = &subgroupChannel{sem: make(chan struct{}, window)}
}

// TrySend attempts to claim a send-window slot and, if one is free,
// fills a size-byte buffer via fill and broadcasts it. A false, nil
// return means the window is full; the caller should wait for a
// signal and retry. A non-nil error means fill itself failed (e.g. a
// serialization overflow) and must be surfaced as a hard failure.
func (m *Multicast) TrySend(subgroupID uint32, size int, fill func([]byte) error) (bool, error) {
	m.mu.Lock()
	ch, ok := m.subgroups[subgroupID]
	m.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("multicast: unknown subgroup %d", subgroupID)
	}

	select {
	case ch.sem <- struct{}{}:
	default:
		return false, nil
	}

	buf := make([]byte, size)
	if err := fill(buf); err != nil {
		<-ch.sem
		m.notifySlotFree()
		return false, fmt.Errorf("fill send buffer: %w", err)
	}

	go func() {
		_ = m.node.Broadcast(buf)
		<-ch.sem
		m.notifySlotFree()
	}()

	return true, nil
}

func (m *Multicast) notifySlotFree() {
	if m.onSlotFree != nil {
		m.onSlotFree()
	}
}
