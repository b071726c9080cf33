package persistent

import (
	"path/filepath"
	"testing"

	"replicore/internal/storage"
)

func newTestDB(t *testing.T) *storage.Storage {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "field.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestFieldMakeVersionTracksLatest(t *testing.T) {
	db := newTestDB(t)

	value := []byte("v0")
	f := NewField("balance", []byte("p/balance/"), db, FieldFuncs{
		Serialize: func() []byte { return value },
	})

	if f.LatestVersion() != InvalidVersion {
		t.Fatalf("fresh field should have no latest version")
	}

	f.MakeVersion(0, HLC{Physical: 1})
	value = []byte("v1")
	f.MakeVersion(1, HLC{Physical: 2})

	if f.LatestVersion() != 1 {
		t.Fatalf("LatestVersion() = %d, want 1", f.LatestVersion())
	}

	if got, ok := f.QueryByVersion(0); !ok || string(got) != "v0" {
		t.Fatalf("QueryByVersion(0) = %q, %v", got, ok)
	}

	if got, ok := f.QueryByVersion(1); !ok || string(got) != "v1" {
		t.Fatalf("QueryByVersion(1) = %q, %v", got, ok)
	}
}

func TestFieldPersistFlushesAndAdvancesMarker(t *testing.T) {
	db := newTestDB(t)

	f := NewField("x", []byte("p/x/"), db, FieldFuncs{
		Serialize: func() []byte { return []byte("x") },
	})

	f.MakeVersion(0, HLC{})
	f.MakeVersion(1, HLC{})
	f.MakeVersion(2, HLC{})

	if err := f.Persist(1); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if f.LatestPersisted() != 1 {
		t.Fatalf("LatestPersisted() = %d, want 1", f.LatestPersisted())
	}

	raw, err := db.Get(f.versionKey(1))
	if err != nil || raw == nil {
		t.Fatalf("expected version 1 durably stored, err=%v raw=%v", err, raw)
	}
}

func TestFieldTrimDropsOlderVersions(t *testing.T) {
	db := newTestDB(t)

	f := NewField("x", []byte("p/x/"), db, FieldFuncs{
		Serialize: func() []byte { return []byte("x") },
	})

	for v := int64(0); v < 5; v++ {
		f.MakeVersion(v, HLC{})
	}

	if err := f.Persist(4); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if err := f.Trim(3); err != nil {
		t.Fatalf("Trim: %v", err)
	}

	if _, ok := f.QueryByVersion(2); ok {
		t.Fatalf("version 2 should have been trimmed")
	}

	if _, ok := f.QueryByVersion(3); !ok {
		t.Fatalf("version 3 should survive trim at earliest=3")
	}

	if f.VersionCount() != 2 {
		t.Fatalf("VersionCount() = %d, want 2", f.VersionCount())
	}
}

func TestFieldTruncateRollsBackTailAndPersistedMarker(t *testing.T) {
	db := newTestDB(t)

	f := NewField("x", []byte("p/x/"), db, FieldFuncs{
		Serialize: func() []byte { return []byte("x") },
	})

	for v := int64(0); v < 5; v++ {
		f.MakeVersion(v, HLC{})
	}

	if err := f.Persist(4); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if err := f.Truncate(2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if f.LatestVersion() != 2 {
		t.Fatalf("LatestVersion() = %d, want 2", f.LatestVersion())
	}

	if f.LatestPersisted() != 2 {
		t.Fatalf("LatestPersisted() = %d, want 2 (pulled back)", f.LatestPersisted())
	}

	if _, ok := f.QueryByVersion(3); ok {
		t.Fatalf("version 3 should have been truncated away")
	}
}

func TestFieldAttachAndReadSignature(t *testing.T) {
	db := newTestDB(t)

	f := NewField("x", []byte("p/x/"), db, FieldFuncs{
		Serialize: func() []byte { return []byte("x") },
	})

	f.MakeVersion(0, HLC{})
	f.AttachSignature(0, []byte("sig0"))

	if got := f.SignatureAt(0); string(got) != "sig0" {
		t.Fatalf("SignatureAt(0) = %q, want sig0", got)
	}

	if got := f.SignatureAt(1); got != nil {
		t.Fatalf("SignatureAt(1) = %q, want nil", got)
	}
}
