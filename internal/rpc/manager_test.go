package rpc

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"replicore/internal/transport"
	"replicore/internal/view"
)

func TestWrapUnwrapEnvelopeRoundTrip(t *testing.T) {
	wire := Marshal(ComputeTag("demo.Counter", "Add"), [][]byte{[]byte("x")})

	envelope := WrapEnvelope("demo.Counter", wire)

	typeName, gotWire, err := unwrapEnvelope(envelope)
	if err != nil {
		t.Fatalf("unwrapEnvelope: %v", err)
	}

	if typeName != "demo.Counter" {
		t.Fatalf("typeName = %q, want demo.Counter", typeName)
	}

	if !bytes.Equal(gotWire, wire) {
		t.Fatalf("wire round-trip mismatch")
	}
}

func newTestManager(t *testing.T, members []view.NodeID) (*Manager, *transport.Node) {
	t.Helper()

	node := &transport.Node{}
	mcast := transport.NewMulticast(node, nil)
	views := view.NewManager(view.NewView(members, mcast, nil))

	return NewManager(node, mcast, views), node
}

func TestFinishP2PSendRejectsNodeOutsideView(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1, 2})

	_, err := m.FinishP2PSend("demo.Counter", 99, []byte("payload"))
	if !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("err = %v, want ErrInvalidNode", err)
	}
}

func TestFinishP2PSendRejectsUnknownDirectoryEntry(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1, 2})

	_, err := m.FinishP2PSend("demo.Counter", 1, []byte("payload"))
	if !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("err = %v, want ErrInvalidNode for a member with no directory entry", err)
	}
}

func TestFinishP2PSendRejectsDisconnectedPeer(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1})

	_, pub, err := ed25519GenerateForTest()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	m.SetDirectoryEntry(1, pub)

	_, err = m.FinishP2PSend("demo.Counter", 1, []byte("payload"))
	if !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("err = %v, want ErrInvalidNode for an unconnected peer", err)
	}
}

func TestMakeAndDestroyRemoteInvocableClass(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1})

	table := NewMethodTable()
	tag := ComputeTag("demo.Counter", "Get")
	table.Register(tag, func([][]byte) ([]byte, error) { return []byte("42"), nil })

	m.MakeRemoteInvocableClass("demo.Counter", table)

	wire := Marshal(tag, nil)
	envelope := WrapEnvelope("demo.Counter", wire)

	out, err := m.handleRequest(nil, envelope)
	if err != nil || string(out) != "42" {
		t.Fatalf("handleRequest = %q, %v, want 42, nil", out, err)
	}

	m.DestroyRemoteInvocableClass("demo.Counter")

	if _, err := m.handleRequest(nil, envelope); err == nil {
		t.Fatalf("expected error after DestroyRemoteInvocableClass")
	}
}

func ed25519GenerateForTest() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	return priv, pub, err
}

func TestTryOrderedSendAcceptsWithinWindow(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1})
	m.multicast.RegisterSubgroup(0, 4)

	args := [][]byte{[]byte("payload")}
	tag := ComputeTag("demo.Counter", "Add")

	var filled []byte

	ok, err := m.TryOrderedSend("demo.Counter", 0, SizeFor(args), func(buf []byte) error {
		if err := Fill(buf, tag, args); err != nil {
			return err
		}
		filled = append([]byte(nil), buf...)
		return nil
	})
	if !ok || err != nil {
		t.Fatalf("TryOrderedSend = %v, %v, want true, nil", ok, err)
	}

	gotTag, gotArgs, err := Unmarshal(filled)
	if err != nil || gotTag != tag || string(gotArgs[0]) != "payload" {
		t.Fatalf("envelope payload decoded to %v, %v, %v", gotTag, gotArgs, err)
	}
}

func TestTryOrderedSendReportsUnavailableWindow(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1})
	m.multicast.RegisterSubgroup(0, 1)

	// fill runs synchronously inside TryOrderedSend, so the first send
	// runs on its own goroutine and its blocked fill holds the only slot.
	block := make(chan struct{})
	started := make(chan struct{})

	type result struct {
		ok  bool
		err error
	}
	first := make(chan result, 1)

	go func() {
		ok, err := m.TryOrderedSend("demo.Counter", 0, 4, func(buf []byte) error {
			close(started)
			<-block
			return nil
		})
		first <- result{ok, err}
	}()

	<-started

	ok, err := m.TryOrderedSend("demo.Counter", 0, 4, func([]byte) error { return nil })
	if ok || err != nil {
		t.Fatalf("second TryOrderedSend should report unavailable, got ok=%v err=%v", ok, err)
	}

	close(block)

	if r := <-first; !r.ok || r.err != nil {
		t.Fatalf("first TryOrderedSend should succeed, got ok=%v err=%v", r.ok, r.err)
	}
}

func TestHandleMessageDispatchesToRegisteredClass(t *testing.T) {
	m, _ := newTestManager(t, []view.NodeID{1})

	var received []byte

	table := NewMethodTable()
	tag := ComputeTag("demo.Counter", "Add")
	table.Register(tag, func(args [][]byte) ([]byte, error) {
		received = args[0]
		return nil, nil
	})
	m.MakeRemoteInvocableClass("demo.Counter", table)

	wire := Marshal(tag, [][]byte{[]byte("payload")})
	m.handleMessage(nil, WrapEnvelope("demo.Counter", wire))

	if string(received) != "payload" {
		t.Fatalf("received = %q, want payload", received)
	}
}
