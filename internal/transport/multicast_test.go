package transport

import "testing"

func TestMulticastTrySendUnknownSubgroup(t *testing.T) {
	m := NewMulticast(&Node{peers: make(map[string]*Peer)}, nil)

	ok, err := m.TrySend(99, 8, func([]byte) error { return nil })
	if ok || err == nil {
		t.Fatalf("expected error for unknown subgroup, got ok=%v err=%v", ok, err)
	}
}

func TestMulticastTrySendWindowExhaustion(t *testing.T) {
	node := &Node{peers: make(map[string]*Peer)}
	m := NewMulticast(node, nil)
	m.RegisterSubgroup(1, 1)

	// fill runs synchronously; the slot stays held until the background
	// Broadcast returns, which it cannot do while peersMu is locked.
	node.peersMu.Lock()

	ok, err := m.TrySend(1, 4, func(buf []byte) error { return nil })
	if !ok || err != nil {
		node.peersMu.Unlock()
		t.Fatalf("first TrySend should succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = m.TrySend(1, 4, func([]byte) error { return nil })
	node.peersMu.Unlock()
	if ok || err != nil {
		t.Fatalf("second TrySend should report window full (false,nil), got ok=%v err=%v", ok, err)
	}
}

func TestMulticastTrySendFillErrorIsHardFailure(t *testing.T) {
	node := &Node{peers: make(map[string]*Peer)}
	m := NewMulticast(node, nil)
	m.RegisterSubgroup(1, 4)

	ok, err := m.TrySend(1, 4, func([]byte) error { return errOverflow })
	if ok || err == nil {
		t.Fatalf("expected hard failure, got ok=%v err=%v", ok, err)
	}
}

var errOverflow = errOverflowSentinel{}

type errOverflowSentinel struct{}

func (errOverflowSentinel) Error() string { return "buffer overflow" }
