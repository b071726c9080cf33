// Package signing implements the abstract Signer/Verifier capability
// consumed by the persistence pipeline (spec §6, §4.2). The accumulated
// bytes of a version are streamed through Init/AddBytes/Finalize rather
// than assembled into one buffer, matching how the persistent registry's
// signing pipeline feeds field-by-field data.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// Signer is the abstract signing capability described in spec §6.
type Signer interface {
	// Init resets the accumulator for a new signature.
	Init()
	// AddBytes feeds bytes into the accumulator.
	AddBytes(p []byte)
	// Finalize produces the signature over everything accumulated
	// since the last Init.
	Finalize() []byte
	// MaxSignatureSize returns the fixed signature length this signer produces.
	MaxSignatureSize() int
}

// Verifier is the read-side counterpart of Signer.
type Verifier interface {
	Init()
	AddBytes(p []byte)
	// Finalize reports whether signature matches everything accumulated
	// since the last Init.
	Finalize(signature []byte) bool
}

// Ed25519Signer signs the BLAKE3 digest of the accumulated bytes with an
// Ed25519 private key. Ed25519 has no native streaming API, so the
// accumulator is a BLAKE3 hasher and Finalize signs its 32-byte sum —
// this is the same pre-hash pattern the teacher uses to derive a BLS
// seed from an Ed25519 key (DeriveFromED25519).
type Ed25519Signer struct {
	priv   ed25519.PrivateKey
	hasher *blake3.Hasher
}

// NewEd25519Signer constructs a signer from a raw Ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, hasher: blake3.New()}
}

// LoadEd25519SignerFromPEM reads a PEM-encoded Ed25519 private key from
// path, per the signed_persistent_log / private_key_file configuration
// option (spec §6). Returns ErrKeyLoad-wrapped errors on failure.
func LoadEd25519SignerFromPEM(path string) (*Ed25519Signer, error) {
	priv, err := readEd25519PEM(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}

	return NewEd25519Signer(priv), nil
}

// GenerateEd25519Signer creates a signer from a freshly generated keypair,
// useful for tests and for the example cmd that has no private_key_file.
func GenerateEd25519Signer() (*Ed25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key:\n%w", err)
	}

	return NewEd25519Signer(priv), pub, nil
}

// Init resets the accumulator.
func (s *Ed25519Signer) Init() {
	s.hasher.Reset()
}

// AddBytes feeds bytes into the BLAKE3 accumulator.
func (s *Ed25519Signer) AddBytes(p []byte) {
	s.hasher.Write(p)
}

// Finalize signs the accumulated digest.
func (s *Ed25519Signer) Finalize() []byte {
	var digest [32]byte
	s.hasher.Sum(digest[:0])

	return ed25519.Sign(s.priv, digest[:])
}

// MaxSignatureSize returns the Ed25519 signature length.
func (s *Ed25519Signer) MaxSignatureSize() int {
	return ed25519.SignatureSize
}

// Ed25519Verifier is the read-side counterpart of Ed25519Signer.
type Ed25519Verifier struct {
	pub    ed25519.PublicKey
	hasher *blake3.Hasher
}

// NewEd25519Verifier constructs a verifier from a raw Ed25519 public key.
func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub, hasher: blake3.New()}
}

// Init resets the accumulator.
func (v *Ed25519Verifier) Init() {
	v.hasher.Reset()
}

// AddBytes feeds bytes into the BLAKE3 accumulator.
func (v *Ed25519Verifier) AddBytes(p []byte) {
	v.hasher.Write(p)
}

// Finalize reports whether signature verifies against the accumulated digest.
func (v *Ed25519Verifier) Finalize(signature []byte) bool {
	var digest [32]byte
	v.hasher.Sum(digest[:0])

	return ed25519.Verify(v.pub, digest[:], signature)
}

// readEd25519PEM is a narrow helper: the core treats key loading as an
// external collaborator concern, so this only covers the raw-seed PEM
// layout WriteEd25519PEM writes (see pem.go), which the example cmd
// uses for its generated key.
func readEd25519PEM(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	seed, err := decodePEMSeed(data)
	if err != nil {
		return nil, err
	}

	return ed25519.NewKeyFromSeed(seed), nil
}
