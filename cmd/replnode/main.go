// Command replnode is an example process wiring a Group, one
// replicated shard, and a sandboxed WASM UserObject together over the
// QUIC transport (spec §3, §6). It demonstrates the end-to-end wiring
// the core leaves to its caller: membership, signing, storage, and the
// Factory a real application would supply. Grounded on the teacher's
// cmd/node, generalized from a blockchain validator binary to a
// generic replicated-object host.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"replicore/internal/config"
	"replicore/internal/logger"
	"replicore/internal/signing"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.ParseFlags()

	if err := cfg.Validate(); err != nil {
		return err
	}

	signer, pub, err := loadOrGenerateSigner(cfg)
	if err != nil {
		return fmt.Errorf("load signer:\n%w", err)
	}

	n, err := NewNode(cfg, signer, pub)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}
	defer n.Close()

	logger.Info("starting replnode",
		"node_id", cfg.LocalNodeID,
		"listen", cfg.ListenAddr,
		"data", cfg.DataPath,
		"signed_persistent_log", cfg.SignedPersistentLog,
	)

	return n.Run()
}

// loadOrGenerateSigner resolves the signed_persistent_log /
// private_key_file options into a concrete Signer (spec §6): when
// signing is disabled the returned signer is nil and handles persist
// unsigned, matching PersistWithoutSignerSkipsSigning's contract.
func loadOrGenerateSigner(cfg *config.Config) (signing.Signer, ed25519.PublicKey, error) {
	if !cfg.SignedPersistentLog {
		return nil, nil, nil
	}

	if cfg.PrivateKeyFile != "" {
		if _, err := os.Stat(cfg.PrivateKeyFile); err == nil {
			s, err := signing.LoadEd25519SignerFromPEM(cfg.PrivateKeyFile)
			if err != nil {
				return nil, nil, err
			}

			return s, nil, nil
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key:\n%w", err)
	}

	if cfg.PrivateKeyFile != "" {
		if err := signing.WriteEd25519PEM(cfg.PrivateKeyFile, priv); err != nil {
			return nil, nil, fmt.Errorf("save generated key:\n%w", err)
		}
	}

	return signing.NewEd25519Signer(priv), pub, nil
}
