package persistent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"replicore/internal/metrics"
	"replicore/internal/signing"
	"replicore/internal/storage"
)

// registeredField is one entry of the registry's field table, ordered
// by the SHA-256 hash of its name rather than registration order so
// that Sign and Verify walk fields in the same sequence regardless of
// which order registerPersist calls happened in (resolves the
// field-iteration-order REDESIGN FLAG).
type registeredField struct {
	field *Field
	hash  [32]byte
}

// Registry is PersistentRegistry (spec §4.2): the per-replicated-object
// collection of PersistentFields, plus the chained-signature pipeline
// across all of them. It is grounded on the teacher's
// internal/consensus/store.go, generalized from "one validator's vote
// log" to "one object's field collection".
type Registry struct {
	typeName      string
	subgroupIndex uint32
	shardNum      uint32
	db            *storage.Storage

	mu               sync.Mutex
	fields           []registeredField // sorted by hash
	lastSignedVersion int64
	lastSignature    []byte

	// frontierProvider is a non-owning back-pointer to the owning
	// handle's stability-frontier query, re-seated on every Move (spec
	// §9 "cyclic reference risk": the registry must be able to ask its
	// handle a question without the handle's lifetime depending on the
	// registry's).
	frontierProvider func() int64
}

// NewRegistry constructs an empty registry for one replicated object.
func NewRegistry(typeName string, subgroupIndex, shardNum uint32, db *storage.Storage) *Registry {
	return &Registry{
		typeName:          typeName,
		subgroupIndex:     subgroupIndex,
		shardNum:          shardNum,
		db:                db,
		lastSignedVersion: InvalidVersion,
	}
}

// SubgroupPrefix identifies this object's storage namespace:
// hex(sha256(type_name))-subgroup_index-shard_num (spec §4.2).
func (r *Registry) SubgroupPrefix() string {
	sum := sha256.Sum256([]byte(r.typeName))

	return fmt.Sprintf("%s-%d-%d", hex.EncodeToString(sum[:]), r.subgroupIndex, r.shardNum)
}

// RegisterPersist adds a new field to the registry, ordered by the
// SHA-256 hash of its name (spec §4.2, REDESIGN FLAGS).
func (r *Registry) RegisterPersist(name string, fns FieldFuncs) *Field {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := []byte(r.SubgroupPrefix() + "/" + name + "/")
	f := NewField(name, prefix, r.db, fns)

	h := fieldHash(name)
	entry := registeredField{field: f, hash: h}

	idx := sort.Search(len(r.fields), func(i int) bool {
		return compareHash(r.fields[i].hash, h) > 0
	})

	r.fields = append(r.fields, registeredField{})
	copy(r.fields[idx+1:], r.fields[idx:])
	r.fields[idx] = entry

	return f
}

// UnregisterPersist removes a field from the registry by name,
// resolving the REDESIGN FLAG that the original left this a no-op: the
// field is actually dropped from the ordered table, so future
// MakeVersion/Sign/Verify passes no longer see it.
func (r *Registry) UnregisterPersist(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.fields {
		if entry.field.Name() == name {
			r.fields = append(r.fields[:i], r.fields[i+1:]...)
			return
		}
	}
}

// Fields returns the registry's fields in hash order (for tests and
// diagnostics).
func (r *Registry) Fields() []*Field {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Field, len(r.fields))
	for i, e := range r.fields {
		out[i] = e.field
	}

	return out
}

// MakeVersion fans materialization out to every registered field
// (spec §4.2).
func (r *Registry) MakeVersion(v int64, hlc HLC) {
	for _, e := range r.snapshotFields() {
		e.MakeVersion(v, hlc)
	}
}

// Persist fans a flush out to every registered field.
func (r *Registry) Persist(v int64) error {
	defer metrics.Timer(metrics.PersistLatencySeconds)()

	for _, e := range r.snapshotFields() {
		if err := e.Persist(v); err != nil {
			return fmt.Errorf("persist field %q:\n%w", e.Name(), err)
		}
	}

	return nil
}

// Trim fans a trim out to every registered field.
func (r *Registry) Trim(earliest int64) error {
	for _, e := range r.snapshotFields() {
		if err := e.Trim(earliest); err != nil {
			return fmt.Errorf("trim field %q:\n%w", e.Name(), err)
		}
	}

	return nil
}

// Truncate fans a truncate out to every registered field.
func (r *Registry) Truncate(latest int64) error {
	for _, e := range r.snapshotFields() {
		if err := e.Truncate(latest); err != nil {
			return fmt.Errorf("truncate field %q:\n%w", e.Name(), err)
		}
	}

	return nil
}

// MinLatestVersion returns the minimum LatestVersion across all fields,
// i.e. the highest version every field has caught up to (spec §4.2).
// Sign does not consult it.
func (r *Registry) MinLatestVersion() int64 {
	fields := r.snapshotFields()
	if len(fields) == 0 {
		return InvalidVersion
	}

	min := fields[0].LatestVersion()
	for _, f := range fields[1:] {
		if lv := f.LatestVersion(); lv < min {
			min = lv
		}
	}

	return min
}

// MinLatestPersisted returns the minimum LatestPersisted across all
// fields, i.e. the highest version safely known durable everywhere.
func (r *Registry) MinLatestPersisted() int64 {
	fields := r.snapshotFields()
	if len(fields) == 0 {
		return InvalidVersion
	}

	min := fields[0].LatestPersisted()
	for _, f := range fields[1:] {
		if lp := f.LatestPersisted(); lp < min {
			min = lp
		}
	}

	return min
}

// NumberOfVersions reports the version count of the field retaining
// the most, an upper bound on any one field's log size.
func (r *Registry) NumberOfVersions() int {
	max := 0
	for _, f := range r.snapshotFields() {
		if n := f.VersionCount(); n > max {
			max = n
		}
	}

	return max
}

// Sign extends the chained signature up to and including target,
// skipping versions where every field's entry is empty but still
// advancing lastSignedVersion across them (spec §4.2):
//
//	sig(v) = sign(field_bytes(v) ++ sig(prev_nonempty_v))
//
// field_bytes(v) concatenates every field's non-nil bytes at v in the
// registry's hash order. Versions with no field data at all contribute
// nothing and do not get a recorded signature, but still move the
// "previous version considered" marker forward.
func (r *Registry) Sign(target int64, signer signing.Signer) error {
	defer metrics.Timer(metrics.SignLatencySeconds)()

	r.mu.Lock()
	fields := r.fieldsLocked()
	from := r.lastSignedVersion + 1
	prevSig := append([]byte(nil), r.lastSignature...)
	r.mu.Unlock()

	for v := from; v <= target; v++ {
		any := false

		signer.Init()

		for _, f := range fields {
			data := f.BytesAt(v)
			if data == nil {
				continue
			}

			any = true
			signer.AddBytes(data)
		}

		if !any {
			r.mu.Lock()
			r.lastSignedVersion = v
			r.mu.Unlock()

			continue
		}

		signer.AddBytes(prevSig)
		sig := signer.Finalize()

		for _, f := range fields {
			if f.BytesAt(v) != nil {
				f.AttachSignature(v, sig)
			}
		}

		prevSig = sig

		r.mu.Lock()
		r.lastSignedVersion = v
		r.lastSignature = sig
		r.mu.Unlock()
	}

	return nil
}

// Verify checks signature against the fields' materialized bytes at
// version v, chained in from prevSignature (the signature recorded at
// the previous non-empty version). signature and prevSignature are
// always passed explicitly rather than read from registry-local state,
// so verification can run standalone during state transfer, against a
// signature that arrived over the wire rather than one this registry
// ever computed itself (resolves the verify-argument REDESIGN FLAG).
func (r *Registry) Verify(v int64, verifier signing.Verifier, signature, prevSignature []byte) (bool, error) {
	fields := r.snapshotFields()

	any := false

	verifier.Init()

	for _, f := range fields {
		data := f.BytesAt(v)
		if data == nil {
			continue
		}

		any = true
		verifier.AddBytes(data)
	}

	if !any {
		return true, nil // empty version, nothing to verify (skip-but-advance)
	}

	if signature == nil {
		return false, fmt.Errorf("version %d has field data but no signature to verify", v)
	}

	verifier.AddBytes(prevSignature)

	return verifier.Finalize(signature), nil
}

// LastSignature returns the most recently computed chained signature,
// the prevSignature callers should pass to Verify for the next
// non-empty version.
func (r *Registry) LastSignature() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]byte(nil), r.lastSignature...)
}

// LastSignedVersion returns the highest version Sign has processed.
func (r *Registry) LastSignedVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastSignedVersion
}

// SetFrontierProvider installs (or re-seats, after a handle Move) the
// callback the registry uses to ask its owning handle for the current
// global stability frontier.
func (r *Registry) SetFrontierProvider(fn func() int64) {
	r.mu.Lock()
	r.frontierProvider = fn
	r.mu.Unlock()
}

// FrontierProvider returns the currently installed frontier callback,
// or nil if none has been set.
func (r *Registry) FrontierProvider() func() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.frontierProvider
}

func (r *Registry) snapshotFields() []*Field {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fieldsLocked()
}

func (r *Registry) fieldsLocked() []*Field {
	out := make([]*Field, len(r.fields))
	for i, e := range r.fields {
		out[i] = e.field
	}

	return out
}

func fieldHash(name string) [32]byte {
	return sha256.Sum256([]byte(name))
}

func compareHash(a, b [32]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}
