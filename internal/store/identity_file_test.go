package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"proteus/internal/crypto"
	"proteus/internal/store"
)

func TestSaveLoadIdentityPlain(t *testing.T) {
	id, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "identity.pem")

	if err := store.SaveIdentity(path, id, ""); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "PROTEUS IDENTITY KEY") {
		t.Fatalf("identity file is not PEM-encoded: %s", raw)
	}

	got, err := store.LoadIdentity(path, "")
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if got != id {
		t.Fatalf("round-tripped identity does not match original")
	}
}

func TestSaveLoadIdentitySealed(t *testing.T) {
	id, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "identity.pem")

	if err := store.SaveIdentity(path, id, "correct horse"); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "PROTEUS SEALED IDENTITY KEY") {
		t.Fatalf("sealed identity file is not PEM-encoded: %s", raw)
	}

	if _, err := store.LoadIdentity(path, "wrong passphrase"); err == nil {
		t.Fatalf("expected an error decrypting with the wrong passphrase")
	}

	got, err := store.LoadIdentity(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if got != id {
		t.Fatalf("round-tripped identity does not match original")
	}
}

func TestLoadIdentityMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pem")
	if _, err := store.LoadIdentity(path, ""); !os.IsNotExist(err) {
		t.Fatalf("LoadIdentity on a missing file = %v, want os.ErrNotExist", err)
	}
}
