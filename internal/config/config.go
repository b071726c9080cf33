// Package config loads the four recognized runtime options (spec §6):
// signed_persistent_log, private_key_file, local_node_id, and
// max_p2p_request_payload_size. It follows the teacher's cmd/node flag
// layout, generalized from a single-purpose node binary's flags into a
// struct other commands can populate without depending on the flag
// package directly.
package config

import (
	"flag"
	"fmt"
	"strings"
)

// Config holds the options a replicated-object process needs at
// startup.
type Config struct {
	// ListenAddr is the QUIC address this node listens on.
	ListenAddr string

	// DataPath is the directory backing the durable storage layer.
	DataPath string

	// SignedPersistentLog enables chained-signature signing of the
	// persistent log (spec §6 signed_persistent_log).
	SignedPersistentLog bool

	// PrivateKeyFile is the path to a PEM-encoded Ed25519 private key.
	// Empty means generate and use an ephemeral key (spec §6
	// private_key_file).
	PrivateKeyFile string

	// LocalNodeID is this process's membership identity (spec §6
	// local_node_id).
	LocalNodeID int32

	// MaxP2PRequestPayload caps a p2p_send's marshalled size in bytes;
	// zero means unbounded (spec §6 max_p2p_request_payload_size).
	MaxP2PRequestPayload int

	// Peers lists addresses of other members to connect to at startup.
	Peers []string
}

// ParseFlags parses command-line flags into a Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen", ":9000", "QUIC listen address")
	flag.StringVar(&cfg.DataPath, "data", "./data", "durable storage directory")
	flag.BoolVar(&cfg.SignedPersistentLog, "signed-persistent-log", false, "sign the persistent log's chained versions")
	flag.StringVar(&cfg.PrivateKeyFile, "private-key-file", "", "PEM-encoded Ed25519 private key path (generates an ephemeral key if empty)")

	var nodeID int
	var peers string

	flag.IntVar(&nodeID, "local-node-id", 0, "this process's membership node ID")
	flag.IntVar(&cfg.MaxP2PRequestPayload, "max-p2p-request-payload-size", 0, "maximum p2p_send payload in bytes (0 = unbounded)")
	flag.StringVar(&peers, "peers", "", "comma-separated addresses of other members to connect to at startup")
	flag.Parse()

	cfg.LocalNodeID = int32(nodeID)

	if peers != "" {
		cfg.Peers = strings.Split(peers, ",")
	}

	return cfg
}

// Validate reports whether cfg is internally consistent.
func (cfg *Config) Validate() error {
	if cfg.LocalNodeID < 0 {
		return fmt.Errorf("config: local_node_id must be non-negative, got %d", cfg.LocalNodeID)
	}

	if cfg.MaxP2PRequestPayload < 0 {
		return fmt.Errorf("config: max_p2p_request_payload_size must be non-negative, got %d", cfg.MaxP2PRequestPayload)
	}

	return nil
}
