package signing

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestEd25519SignerVerifierRoundTrip(t *testing.T) {
	signer, pub, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	signer.Init()
	signer.AddBytes([]byte("field-a-v1"))
	signer.AddBytes([]byte("field-b-v1"))
	sig := signer.Finalize()

	if len(sig) != signer.MaxSignatureSize() {
		t.Fatalf("signature length = %d, want %d", len(sig), signer.MaxSignatureSize())
	}

	verifier := NewEd25519Verifier(pub)
	verifier.Init()
	verifier.AddBytes([]byte("field-a-v1"))
	verifier.AddBytes([]byte("field-b-v1"))

	if !verifier.Finalize(sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestEd25519VerifierRejectsTamperedBytes(t *testing.T) {
	signer, pub, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	signer.Init()
	signer.AddBytes([]byte("original"))
	sig := signer.Finalize()

	verifier := NewEd25519Verifier(pub)
	verifier.Init()
	verifier.AddBytes([]byte("tampered"))

	if verifier.Finalize(sig) {
		t.Fatal("expected signature verification to fail on tampered bytes")
	}
}

func TestLoadEd25519SignerFromPEMRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")

	signer, pub, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	if err := WriteEd25519PEM(path, signer.priv); err != nil {
		t.Fatalf("write pem: %v", err)
	}

	loaded, err := LoadEd25519SignerFromPEM(path)
	if err != nil {
		t.Fatalf("load pem: %v", err)
	}

	loaded.Init()
	loaded.AddBytes([]byte("payload"))
	sig := loaded.Finalize()

	verifier := NewEd25519Verifier(pub)
	verifier.Init()
	verifier.AddBytes([]byte("payload"))

	if !verifier.Finalize(sig) {
		t.Fatal("expected signature from PEM-loaded key to verify")
	}
}

func TestLoadEd25519SignerFromPEMMissingFile(t *testing.T) {
	if _, err := LoadEd25519SignerFromPEM(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected error for missing key file")
	} else if !errors.Is(err, ErrKeyLoad) {
		// Wrapped error; ensure it surfaces as a KeyLoad-kind failure.
		t.Fatalf("err = %v, want it to wrap ErrKeyLoad", err)
	}
}
