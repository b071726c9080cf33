package rpc

import (
	"bytes"
	"testing"
)

func TestComputeTagIsDeterministicAndDistinguishesMethods(t *testing.T) {
	a := ComputeTag("demo.Counter", "Increment")
	b := ComputeTag("demo.Counter", "Increment")
	c := ComputeTag("demo.Counter", "Decrement")

	if a != b {
		t.Fatalf("ComputeTag should be deterministic")
	}

	if a == c {
		t.Fatalf("different methods should not collide trivially")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tag := ComputeTag("demo.Counter", "Add")
	args := [][]byte{[]byte("hello"), {}, []byte("world")}

	wire := Marshal(tag, args)

	gotTag, gotArgs, err := Unmarshal(wire)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if gotTag != tag {
		t.Fatalf("tag = %d, want %d", gotTag, tag)
	}

	if len(gotArgs) != len(args) {
		t.Fatalf("got %d args, want %d", len(gotArgs), len(args))
	}

	for i := range args {
		if !bytes.Equal(gotArgs[i], args[i]) {
			t.Fatalf("arg %d = %q, want %q", i, gotArgs[i], args[i])
		}
	}
}

func TestFillRejectsUndersizedBuffer(t *testing.T) {
	tag := ComputeTag("demo.Counter", "Add")
	args := [][]byte{[]byte("hello")}

	buf := make([]byte, SizeFor(args)-1)

	if err := Fill(buf, tag, args); err == nil {
		t.Fatalf("expected ErrPayloadTooLarge for undersized buffer")
	}
}

func TestUnmarshalRejectsTruncatedWire(t *testing.T) {
	if _, _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for too-short header")
	}

	tag := ComputeTag("demo.Counter", "Add")
	wire := Marshal(tag, [][]byte{[]byte("hello")})

	if _, _, err := Unmarshal(wire[:len(wire)-2]); err == nil {
		t.Fatalf("expected error for truncated argument bytes")
	}
}

func TestMethodTableDispatch(t *testing.T) {
	table := NewMethodTable()
	tag := ComputeTag("demo.Counter", "Echo")

	table.Register(tag, func(args [][]byte) ([]byte, error) {
		return args[0], nil
	})

	wire := Marshal(tag, [][]byte{[]byte("ping")})

	out, err := table.Dispatch(wire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if string(out) != "ping" {
		t.Fatalf("Dispatch result = %q, want %q", out, "ping")
	}
}

func TestMethodTableDispatchUnknownTag(t *testing.T) {
	table := NewMethodTable()
	wire := Marshal(Tag(12345), nil)

	if _, err := table.Dispatch(wire); err == nil {
		t.Fatalf("expected ErrUnknownTag for unregistered tag")
	}
}
