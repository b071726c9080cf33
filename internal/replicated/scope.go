package replicated

import (
	"context"

	"replicore/internal/persistent"
)

// earliestVersionKey is the unexported context key backing the
// "earliest version to serialize" knob (spec §4.2, §9). The original is
// a per-thread global installed/restored around a serialize call; Go
// has no thread-locals, so context.Context propagation down the call
// stack of a single send_object/serialize invocation is the idiomatic
// equivalent, and it composes correctly with nested scopes since each
// WithEarliestVersionToSerialize call only shadows the key for the
// subtree of calls that receive the derived context.
type earliestVersionKey struct{}

// WithEarliestVersionToSerialize returns a context advertising v as the
// lowest version a field should include while serializing under it.
// Callers restore the previous scope simply by continuing to use the
// parent context once the derived one goes out of scope.
func WithEarliestVersionToSerialize(ctx context.Context, v int64) context.Context {
	return context.WithValue(ctx, earliestVersionKey{}, v)
}

// EarliestVersionToSerialize reads the current scope's knob, defaulting
// to persistent.InvalidVersion (no lower bound) if none was set.
func EarliestVersionToSerialize(ctx context.Context) int64 {
	v, ok := ctx.Value(earliestVersionKey{}).(int64)
	if !ok {
		return persistent.InvalidVersion
	}

	return v
}
