package rpc

import (
	"context"
	"sync"
)

// Pending is a single outstanding p2p_send reply, the future
// ExternalCaller.p2p_send returns to its caller (spec §4.1, §6).
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result []byte
	err    error
}

// newPending creates an unresolved future.
func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// resolve completes the future exactly once; later calls are no-ops.
func (p *Pending) resolve(result []byte, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Get blocks until the reply arrives or ctx is done, whichever is first.
func (p *Pending) Get(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueryResults aggregates one Pending future per target node; an
// ordered send returns one, with a target per shard member
// (spec §4.1 "return value: a future/promise").
type QueryResults struct {
	targets []int32
	pending map[int32]*Pending
}

// NewQueryResults bundles one Pending per target node.
func NewQueryResults(targets []int32, pending map[int32]*Pending) *QueryResults {
	return &QueryResults{targets: targets, pending: pending}
}

// NewQueryResultsForTargets pre-allocates an unresolved Pending for every
// target, for callers (an ordered_send's reply tracker) that know the
// recipient set up front but receive replies one at a time, out of
// order, as they arrive over the wire.
func NewQueryResultsForTargets(targets []int32) *QueryResults {
	pending := make(map[int32]*Pending, len(targets))
	for _, node := range targets {
		pending[node] = newPending()
	}

	return &QueryResults{targets: targets, pending: pending}
}

// Resolve completes the future for node, if it is one of this query's
// targets. Later calls for the same node are no-ops (Pending.resolve
// is idempotent).
func (q *QueryResults) Resolve(node int32, result []byte, err error) {
	if p, ok := q.pending[node]; ok {
		p.resolve(result, err)
	}
}

// Get waits for every target's reply and returns them keyed by node,
// stopping early if ctx is cancelled; replies already received are
// still returned alongside the cancellation error.
func (q *QueryResults) Get(ctx context.Context) (map[int32][]byte, error) {
	results := make(map[int32][]byte, len(q.targets))

	for _, node := range q.targets {
		p, ok := q.pending[node]
		if !ok {
			continue
		}

		reply, err := p.Get(ctx)
		if err != nil {
			return results, err
		}

		results[node] = reply
	}

	return results, nil
}

// Targets returns the set of nodes this query was sent to.
func (q *QueryResults) Targets() []int32 {
	return q.targets
}
