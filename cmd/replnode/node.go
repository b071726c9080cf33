package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"replicore/internal/config"
	"replicore/internal/logger"
	"replicore/internal/replicated"
	"replicore/internal/rpc"
	"replicore/internal/signing"
	"replicore/internal/storage"
	"replicore/internal/transport"
	"replicore/internal/view"
)

// Node bundles the wiring a real application would do once per
// process: a transport identity, the view/rpc collaborators, durable
// storage, and the Group every ReplicatedHandle shares. Grounded on
// the teacher's cmd/node.Node, generalized from one validator's
// consensus wiring to one replicated-object host's wiring.
type Node struct {
	cfg *config.Config

	transport *transport.Node
	mcast     *transport.Multicast
	views     *view.Manager
	manager   *rpc.Manager
	db        *storage.Storage
	group     *replicated.Group

	signer signing.Signer
}

// NewNode wires a transport identity, multicast/view manager, durable
// storage, and the shared Group together for localID's membership
// slot (spec §3, §6). signer may be nil, per PersistWithoutSigner's
// "signed_persistent_log disabled" path.
func NewNode(cfg *config.Config, signer signing.Signer, _ ed25519.PublicKey) (*Node, error) {
	transportKey, err := generateTransportKey()
	if err != nil {
		return nil, fmt.Errorf("generate transport key:\n%w", err)
	}

	tnode, err := transport.NewNode(transport.Config{
		PrivateKey: transportKey,
		ListenAddr: cfg.ListenAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("transport.NewNode:\n%w", err)
	}

	if err := tnode.Start(); err != nil {
		return nil, fmt.Errorf("start transport:\n%w", err)
	}

	localID := view.NodeID(cfg.LocalNodeID)
	members := []view.NodeID{localID}

	var views *view.Manager

	mcast := transport.NewMulticast(tnode, func() { views.Broadcast() })
	mcast.RegisterSubgroup(0, 64)

	views = view.NewManager(view.NewView(members, mcast, nil))
	manager := rpc.NewManager(tnode, mcast, views)
	manager.SetDirectoryEntry(localID, tnode.PublicKey())

	db, err := storage.New(cfg.DataPath)
	if err != nil {
		tnode.Close()
		return nil, fmt.Errorf("storage.New:\n%w", err)
	}

	group := replicated.NewGroup(replicated.GroupConfig{
		LocalNodeID:          localID,
		Views:                views,
		Manager:              manager,
		DB:                   db,
		MaxP2PRequestPayload: cfg.MaxP2PRequestPayload,
	})

	n := &Node{
		cfg:       cfg,
		transport: tnode,
		mcast:     mcast,
		views:     views,
		manager:   manager,
		db:        db,
		group:     group,
		signer:    signer,
	}

	if err := n.connectPeers(cfg.Peers, members); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// connectPeers dials every configured peer address. Node ID assignment
// for dialed peers is this demo's simplification: membership-change
// algorithms are a Non-goal, so peers are assigned sequential IDs in
// the order given rather than learned through a join protocol.
func (n *Node) connectPeers(addrs []string, members []view.NodeID) error {
	if len(addrs) == 0 {
		return nil
	}

	next := members[0] + 1

	for _, addr := range addrs {
		peer, err := n.transport.Connect(addr)
		if err != nil {
			return fmt.Errorf("connect to %s:\n%w", addr, err)
		}

		id := next
		next++

		n.manager.SetDirectoryEntry(id, peer.PublicKey())
		members = append(members, id)
	}

	n.views.SetView(view.NewView(members, n.mcast, nil))

	return nil
}

// Run blocks until the process receives an interrupt, then shuts down.
func (n *Node) Run() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	logger.Info("replnode ready", "node_id", n.cfg.LocalNodeID)

	<-sig

	logger.Info("shutting down")

	return nil
}

// Close releases the node's transport and storage resources.
func (n *Node) Close() {
	if n.db != nil {
		_ = n.db.Close()
	}

	if n.transport != nil {
		_ = n.transport.Close()
	}
}

func generateTransportKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}
