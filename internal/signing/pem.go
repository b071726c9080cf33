package signing

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
)

const pemBlockType = "ED25519 PRIVATE KEY SEED"

// decodePEMSeed extracts the raw 32-byte Ed25519 seed from a PEM block.
func decodePEMSeed(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// WriteEd25519PEM persists an Ed25519 private key's seed to path in the
// layout LoadEd25519SignerFromPEM expects.
func WriteEd25519PEM(path string, priv ed25519.PrivateKey) error {
	block := &pem.Block{
		Type:  pemBlockType,
		Bytes: priv.Seed(),
	}

	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}
