package wasmobj

import "testing"

// corruptWasm is not a valid WASM module; used to exercise the compile error path.
var corruptWasm = []byte{0x00, 0x01, 0x02, 0x03}

func TestPool_LoadInvalidModule(t *testing.T) {
	pool := New()
	defer pool.Close()

	if _, err := pool.Load(corruptWasm, nil); err == nil {
		t.Fatal("expected error loading invalid wasm bytes")
	}
}

func TestPool_LoadIsIdempotentForSameID(t *testing.T) {
	pool := New()
	defer pool.Close()

	var id [32]byte
	id[0] = 0xAB

	// Loading invalid bytes fails before touching the module map, so
	// re-loading under the same custom ID should still fail rather than
	// silently succeed from a stale cache entry.
	if _, err := pool.Load(corruptWasm, &id); err == nil {
		t.Fatal("expected error on first load")
	}
	if _, err := pool.Load(corruptWasm, &id); err == nil {
		t.Fatal("expected error on second load")
	}
}

func TestPool_ExecuteUnknownModule(t *testing.T) {
	pool := New()
	defer pool.Close()

	var id [32]byte
	id[0] = 0xCD

	if _, _, err := pool.Execute(id, nil, 1000); err != ErrModuleNotFound {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestPool_UnloadUnknownIsNoop(t *testing.T) {
	pool := New()
	defer pool.Close()

	var id [32]byte
	pool.Unload(id) // must not panic
}

func TestPool_CloseWithNoModules(t *testing.T) {
	pool := New()

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
