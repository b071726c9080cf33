package replicated

import (
	"testing"

	"replicore/internal/rpc"
)

func TestTypeRegistryRegisterAndLookup(t *testing.T) {
	reg := NewTypeRegistry()

	if _, ok := reg.Lookup("demo.Counter"); ok {
		t.Fatalf("Lookup on empty registry should report false")
	}

	var called bool
	reg.Register("demo.Counter", func(data []byte, ctx *DeserializeContext) (UserObject, *rpc.MethodTable, error) {
		called = true
		return nil, nil, nil
	})

	d, ok := reg.Lookup("demo.Counter")
	if !ok {
		t.Fatalf("Lookup should find the registered deserializer")
	}

	if _, _, err := d(nil, nil); err != nil {
		t.Fatalf("deserializer returned error: %v", err)
	}

	if !called {
		t.Fatalf("deserializer body should have run")
	}
}
