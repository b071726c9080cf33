// Package persistent implements PersistentField and PersistentRegistry
// (spec §3, §4.2): a per-object collection of versioned, append-only
// logs backed by durable storage, with a chained signature across
// successive versions. It is grounded on the teacher's
// internal/consensus/store.go (a versioned, round-indexed vertex log
// over internal/storage's pebble wrapper) generalized from "one DAG's
// vertices" to "one field's versions".
package persistent

import (
	"encoding/binary"
	"sync"

	"replicore/internal/storage"
)

// InvalidVersion is the sentinel for "no version" (spec §3).
const InvalidVersion int64 = -1

// HLC is a hybrid logical clock stamp accompanying a version.
type HLC struct {
	Physical int64
	Logical  uint32
}

// FieldFuncs binds a PersistentField to the in-memory value it mirrors.
// Serialize must return the current value's bytes with no side effects;
// it is called once per makeVersion. It is supplied by registerPersist
// (spec §4.2).
type FieldFuncs struct {
	Serialize func() []byte
}

// versionEntry is one row of a field's append-only log.
type versionEntry struct {
	hlc       HLC
	data      []byte
	signature []byte
	persisted bool
}

// Field is a single versioned, append-only log of one value (spec §3).
type Field struct {
	name   string
	prefix []byte // storage key prefix: subgroupPrefix + "/" + name
	db     *storage.Storage
	fns    FieldFuncs

	mu              sync.Mutex
	versions        map[int64]*versionEntry
	order           []int64 // ascending, for trim/truncate/frontier scans
	latestVersion   int64
	latestPersisted int64
}

// NewField constructs a field backed by db under the given key prefix.
func NewField(name string, prefix []byte, db *storage.Storage, fns FieldFuncs) *Field {
	return &Field{
		name:            name,
		prefix:          prefix,
		db:              db,
		fns:             fns,
		versions:        make(map[int64]*versionEntry),
		latestVersion:   InvalidVersion,
		latestPersisted: InvalidVersion,
	}
}

// Name returns the field's registered name.
func (f *Field) Name() string { return f.name }

// MakeVersion materializes the current in-memory value under version v,
// stamped with hlc (spec §4.2: PersistentRegistry.makeVersion fan-out).
func (f *Field) MakeVersion(v int64, hlc HLC) {
	data := f.fns.Serialize()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.versions[v]; !exists {
		f.order = append(f.order, v)
	}

	f.versions[v] = &versionEntry{hlc: hlc, data: data}

	if v > f.latestVersion {
		f.latestVersion = v
	}
}

// LatestVersion returns the highest version materialized so far.
func (f *Field) LatestVersion() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.latestVersion
}

// LatestPersisted returns the highest version flushed to storage so far.
func (f *Field) LatestPersisted() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.latestPersisted
}

// Persist flushes every unpersisted version up to and including v.
func (f *Field) Persist(v int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ver := range f.order {
		if ver > v {
			break
		}

		entry := f.versions[ver]
		if entry.persisted {
			continue
		}

		if err := f.db.Set(f.versionKey(ver), encodeEntry(entry)); err != nil {
			return err
		}

		entry.persisted = true

		if ver > f.latestPersisted {
			f.latestPersisted = ver
		}
	}

	return nil
}

// Trim discards versions strictly older than earliest.
func (f *Field) Trim(earliest int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.order[:0]

	for _, ver := range f.order {
		if ver < earliest {
			if err := f.db.Delete(f.versionKey(ver)); err != nil {
				return err
			}

			delete(f.versions, ver)

			continue
		}

		kept = append(kept, ver)
	}

	f.order = kept

	return nil
}

// Truncate discards versions strictly newer than latest, rolling back
// an incomplete tail on recovery. If the field's latest-persisted
// marker pointed past latest, it is pulled back to the new maximum
// persisted version at or below latest (supplemented behavior, §SPEC_FULL §2).
func (f *Field) Truncate(latest int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.order[:0]
	newMaxPersisted := InvalidVersion

	for _, ver := range f.order {
		if ver > latest {
			if err := f.db.Delete(f.versionKey(ver)); err != nil {
				return err
			}

			delete(f.versions, ver)

			continue
		}

		kept = append(kept, ver)

		if f.versions[ver].persisted && ver > newMaxPersisted {
			newMaxPersisted = ver
		}
	}

	f.order = kept

	if len(kept) == 0 {
		f.latestVersion = InvalidVersion
	} else {
		f.latestVersion = kept[len(kept)-1]
	}

	if f.latestPersisted > latest {
		f.latestPersisted = newMaxPersisted
	}

	return nil
}

// BytesAt returns the materialized bytes at version v, or nil if the
// field never touched that version (spec §4.2 step 2: "at least one
// field has a non-empty log entry at v").
func (f *Field) BytesAt(v int64) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.versions[v]
	if !ok {
		return nil
	}

	return entry.data
}

// AttachSignature records a version's signature (spec §4.2 step 5).
func (f *Field) AttachSignature(v int64, sig []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.versions[v]; ok {
		entry.signature = append([]byte(nil), sig...)
	}
}

// SignatureAt returns the signature attached to version v, or nil.
func (f *Field) SignatureAt(v int64) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.versions[v]; ok {
		return entry.signature
	}

	return nil
}

// QueryByVersion returns the value materialized at exactly v.
func (f *Field) QueryByVersion(v int64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.versions[v]
	if !ok {
		return nil, false
	}

	return entry.data, true
}

// VersionCount reports how many versions the field currently retains
// (supplemented feature, SPEC_FULL §2.1).
func (f *Field) VersionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.order)
}

func (f *Field) versionKey(v int64) []byte {
	key := make([]byte, len(f.prefix)+8)
	copy(key, f.prefix)
	binary.BigEndian.PutUint64(key[len(f.prefix):], uint64(v))

	return key
}

// encodeEntry serializes a version entry for durable storage:
// [8 bytes HLC.Physical][4 bytes HLC.Logical][4 bytes data len][data]
// [4 bytes sig len][sig].
func encodeEntry(e *versionEntry) []byte {
	buf := make([]byte, 16+len(e.data)+4+len(e.signature))

	binary.BigEndian.PutUint64(buf[0:8], uint64(e.hlc.Physical))
	binary.BigEndian.PutUint32(buf[8:12], e.hlc.Logical)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(e.data)))
	copy(buf[16:16+len(e.data)], e.data)

	off := 16 + len(e.data)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(e.signature)))
	copy(buf[off+4:], e.signature)

	return buf
}
