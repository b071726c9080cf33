// Package view models the view manager collaborator of spec §6: view
// membership, the shared-exclusive view_mutex, the view_change_cv
// condition variable, and the stability-frontier query. Membership
// change and leader election are explicit Non-goals — View is a plain
// snapshot of "who is in this shard right now", generalized from the
// teacher's ValidatorSet (internal/consensus/types.go) which tracked
// blockchain validator membership the same rank-indexed way.
package view

import (
	"sync"
)

// NodeID identifies a member of a view.
type NodeID int32

// MulticastGroup is the transport capability a View exposes for ordered
// sends: "transport.try_send(subgroup_id, size, fill_fn, cooked) returns
// success" (spec §4.1 step 3). A false return with a nil error means
// "no buffer available right now, wait for a signal and retry". A
// non-nil error means fill_fn failed (buffer overflow) and is a hard
// failure that must propagate without retrying.
type MulticastGroup interface {
	TrySend(subgroupID uint32, size int, fill func([]byte) error) (ok bool, err error)
}

// View is the committed membership at a point in time (spec GLOSSARY).
type View struct {
	Members         []NodeID
	index           map[NodeID]int
	Multicast       MulticastGroup
	MaxPayloadSizes map[uint32]int // per-subgroup max multicast payload
}

// NewView builds a view from an ordered member list.
func NewView(members []NodeID, mcast MulticastGroup, maxPayload map[uint32]int) *View {
	idx := make(map[NodeID]int, len(members))
	for i, m := range members {
		idx[m] = i
	}

	return &View{Members: members, index: idx, Multicast: mcast, MaxPayloadSizes: maxPayload}
}

// RankOf returns the member's rank, or -1 if not a member (spec §6).
func (v *View) RankOf(node NodeID) int {
	if idx, ok := v.index[node]; ok {
		return idx
	}

	return -1
}

// Contains reports whether node is a current member.
func (v *View) Contains(node NodeID) bool {
	return v.RankOf(node) != -1
}

// Manager owns the view_mutex / view_change_cv pair and the current
// view. Senders hold viewMu in shared (reader) mode for the entire
// duration of their send predicate wait (spec §5); view changes hold
// it exclusively and then broadcast Cond so waiters re-check the
// predicate. Wait transparently releases the caller's RLock before
// parking and reacquires it before returning, the same release-and-
// reacquire-around-the-wait contract as C++'s
// condition_variable_any::wait(shared_lock, pred) (the original
// source's replicated_impl.hpp), so an exclusive SetView can always
// make progress while senders are parked.
type Manager struct {
	viewMu sync.RWMutex
	curr   *View

	condMu sync.Mutex
	cond   *sync.Cond
}

// NewManager creates a view manager seeded with an initial view.
func NewManager(initial *View) *Manager {
	m := &Manager{curr: initial}
	m.cond = sync.NewCond(&m.condMu)

	return m
}

// RLock acquires the view_mutex in shared (reader) mode.
func (m *Manager) RLock() { m.viewMu.RLock() }

// RUnlock releases the shared (reader) hold on view_mutex.
func (m *Manager) RUnlock() { m.viewMu.RUnlock() }

// Current returns the current view, taking viewMu's read lock for the
// duration of the read. Callers that already hold RLock use
// CurrentLocked instead.
func (m *Manager) Current() *View {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	return m.curr
}

// CurrentLocked returns the view without acquiring viewMu, for callers
// that already hold RLock (or the exclusive Lock) themselves. Calling
// Current instead from such a caller would recursively re-acquire
// viewMu.RLock(), which Go's sync.RWMutex documents as unsafe: a
// blocked pending writer can starve the recursive RLock forever. The
// ordered-send wait loop, which holds RLock across its entire
// wait/retry cycle, must use this accessor.
func (m *Manager) CurrentLocked() *View {
	return m.curr
}

// SetView installs a new view under the exclusive lock and wakes every
// sender blocked in the ordered-send wait loop, matching spec §5's
// "view-change operations hold it exclusively and signal view_change_cv".
func (m *Manager) SetView(v *View) {
	m.viewMu.Lock()
	m.curr = v
	m.viewMu.Unlock()

	m.Broadcast()
}

// Broadcast wakes all goroutines waiting in Wait, used both on view
// change and whenever the transport frees a send-buffer slot.
func (m *Manager) Broadcast() {
	m.condMu.Lock()
	m.cond.Broadcast()
	m.condMu.Unlock()
}

// Wait blocks until the next Broadcast. The caller must hold viewMu's
// read lock on entry; Wait releases it before parking so an exclusive
// SetView can proceed, and reacquires it before returning so the
// caller's retry loop can safely resume reading CurrentLocked. Holding
// condMu across the RUnlock/cond.Wait pair closes the window between
// "release viewMu" and "actually park on cond": Broadcast cannot
// acquire condMu, and therefore cannot be missed, until cond.Wait has
// atomically released it.
func (m *Manager) Wait() {
	m.condMu.Lock()
	m.viewMu.RUnlock()

	m.cond.Wait()

	m.condMu.Unlock()
	m.viewMu.RLock()
}

// ComputeGlobalStabilityFrontier delegates to the view's stability
// frontier provider, if any. The core never computes this itself
// (spec §4.1: "delegate to the view manager").
func (m *Manager) ComputeGlobalStabilityFrontier(subgroupID uint32, provider func(uint32) int64) int64 {
	if provider == nil {
		return -1
	}

	return provider(subgroupID)
}
