package persistent

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"replicore/internal/signing"
	"replicore/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Storage) {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return NewRegistry("demo.Counter", 0, 0, db), db
}

func TestRegistrySubgroupPrefixIsDeterministic(t *testing.T) {
	r, db := newTestRegistry(t)

	other := NewRegistry("demo.Counter", 0, 0, db)

	if r.SubgroupPrefix() != other.SubgroupPrefix() {
		t.Fatalf("same type/subgroup/shard should produce the same prefix")
	}

	diff := NewRegistry("demo.Counter", 1, 0, db)
	if r.SubgroupPrefix() == diff.SubgroupPrefix() {
		t.Fatalf("different subgroup index should change the prefix")
	}
}

func TestRegisterPersistOrdersFieldsByHash(t *testing.T) {
	r, _ := newTestRegistry(t)

	names := []string{"zeta", "alpha", "mu", "beta"}
	for _, n := range names {
		r.RegisterPersist(n, FieldFuncs{Serialize: func() []byte { return nil }})
	}

	fields := r.Fields()
	if len(fields) != len(names) {
		t.Fatalf("got %d fields, want %d", len(fields), len(names))
	}

	for i := 1; i < len(fields); i++ {
		prev := fieldHash(fields[i-1].Name())
		curr := fieldHash(fields[i].Name())

		if compareHash(prev, curr) > 0 {
			t.Fatalf("fields not sorted by hash: %q before %q", fields[i-1].Name(), fields[i].Name())
		}
	}
}

func TestUnregisterPersistRemovesField(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.RegisterPersist("a", FieldFuncs{Serialize: func() []byte { return nil }})
	r.RegisterPersist("b", FieldFuncs{Serialize: func() []byte { return nil }})

	r.UnregisterPersist("a")

	fields := r.Fields()
	if len(fields) != 1 || fields[0].Name() != "b" {
		t.Fatalf("expected only field %q to remain, got %v", "b", fields)
	}
}

func TestRegistryMinLatestVersionTracksSlowestField(t *testing.T) {
	r, _ := newTestRegistry(t)

	fast := r.RegisterPersist("fast", FieldFuncs{Serialize: func() []byte { return []byte("f") }})
	slow := r.RegisterPersist("slow", FieldFuncs{Serialize: func() []byte { return []byte("s") }})

	fast.MakeVersion(0, HLC{})
	fast.MakeVersion(1, HLC{})
	slow.MakeVersion(0, HLC{})

	if got := r.MinLatestVersion(); got != 0 {
		t.Fatalf("MinLatestVersion() = %d, want 0", got)
	}

	slow.MakeVersion(1, HLC{})

	if got := r.MinLatestVersion(); got != 1 {
		t.Fatalf("MinLatestVersion() = %d, want 1", got)
	}
}

func TestRegistrySignAndVerifyChain(t *testing.T) {
	r, _ := newTestRegistry(t)

	valueA := "a0"
	valueB := "b0"

	fa := r.RegisterPersist("a", FieldFuncs{Serialize: func() []byte { return []byte(valueA) }})
	fb := r.RegisterPersist("b", FieldFuncs{Serialize: func() []byte { return []byte(valueB) }})

	signer, pub, err := signing.GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("GenerateEd25519Signer: %v", err)
	}

	verifier := signing.NewEd25519Verifier(pub)

	r.MakeVersion(0, HLC{Physical: 1})
	if err := r.Sign(0, signer); err != nil {
		t.Fatalf("Sign(0): %v", err)
	}

	sig0 := r.LastSignature()

	ok, err := r.Verify(0, verifier, sig0, nil)
	if err != nil || !ok {
		t.Fatalf("Verify(0) = %v, %v, want true, nil", ok, err)
	}

	valueA = "a1"
	valueB = "b1"
	r.MakeVersion(1, HLC{Physical: 2})

	if err := r.Sign(1, signer); err != nil {
		t.Fatalf("Sign(1): %v", err)
	}

	sig1 := r.LastSignature()

	ok, err = r.Verify(1, verifier, sig1, sig0)
	if err != nil || !ok {
		t.Fatalf("Verify(1) with correct prevSignature = %v, %v, want true, nil", ok, err)
	}

	ok, err = r.Verify(1, verifier, sig1, []byte("wrong-prev-sig"))
	if err == nil && ok {
		t.Fatalf("Verify(1) with wrong prevSignature should fail")
	}

	_ = fa
	_ = fb
}

func TestRegistrySignSkipsEmptyVersionsButAdvances(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.RegisterPersist("a", FieldFuncs{Serialize: func() []byte { return nil }})

	signer, _, err := signing.GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("GenerateEd25519Signer: %v", err)
	}

	r.MakeVersion(0, HLC{})
	r.MakeVersion(1, HLC{})

	if err := r.Sign(1, signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if r.LastSignedVersion() != 1 {
		t.Fatalf("LastSignedVersion() = %d, want 1 even though all versions were empty", r.LastSignedVersion())
	}

	if r.LastSignature() != nil {
		t.Fatalf("LastSignature() should remain nil when no version ever had data")
	}
}

// TestSignBeforePersistSurvivesStorageReopen guards the ordering bug a
// reviewer can otherwise reintroduce: Field.Persist marks an entry
// persisted and never re-encodes it, so a signature attached after
// the flush never reaches durable storage. Signing before persisting
// (the order ReplicatedHandle.Persist now uses) must leave the
// signature recoverable from a freshly reopened Storage.
func TestSignBeforePersistSurvivesStorageReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.db")

	db, err := storage.New(path)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	r := NewRegistry("demo.Counter", 0, 0, db)
	value := "v0"
	f := r.RegisterPersist("value", FieldFuncs{Serialize: func() []byte { return []byte(value) }})

	signer, pub, err := signing.GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("GenerateEd25519Signer: %v", err)
	}

	r.MakeVersion(0, HLC{Physical: 1})

	if err := r.Sign(0, signer); err != nil {
		t.Fatalf("Sign(0): %v", err)
	}

	sig := r.LastSignature()
	if len(sig) == 0 {
		t.Fatalf("expected a non-empty signature")
	}

	if err := r.Persist(0); err != nil {
		t.Fatalf("Persist(0): %v", err)
	}

	key := f.versionKey(0)

	if err := db.Close(); err != nil {
		t.Fatalf("db.Close: %v", err)
	}

	reopened, err := storage.New(path)
	if err != nil {
		t.Fatalf("storage.New (reopen): %v", err)
	}
	defer reopened.Close()

	raw, err := reopened.Get(key)
	if err != nil || raw == nil {
		t.Fatalf("expected version 0 durably stored after reopen, err=%v raw=%v", err, raw)
	}

	dataLen := binary.BigEndian.Uint32(raw[12:16])
	sigOff := 16 + dataLen
	sigLen := binary.BigEndian.Uint32(raw[sigOff : sigOff+4])
	storedSig := raw[sigOff+4 : sigOff+4+sigLen]

	if string(storedSig) != string(sig) {
		t.Fatalf("signature did not survive persist+reopen: stored %v, want %v", storedSig, sig)
	}

	verifier := signing.NewEd25519Verifier(pub)

	ok, err := r.Verify(0, verifier, storedSig, nil)
	if err != nil || !ok {
		t.Fatalf("Verify with the reopened signature = %v, %v, want true, nil", ok, err)
	}
}
