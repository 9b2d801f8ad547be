package proteus_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"proteus"
	"proteus/internal/crypto"
	"proteus/internal/store"
)

func TestSerialiseDeserialiseRoundTrip(t *testing.T) {
	ctx := context.Background()
	alice := newIdentity(t)
	bob := newIdentity(t)
	bobStore := store.NewFilePreKeyStore(t.TempDir())
	bundle := publishBundle(t, bobStore, bob, 1)

	aliceSession, err := proteus.InitFromPreKey(ctx, alice, bundle)
	if err != nil {
		t.Fatalf("InitFromPreKey: %v", err)
	}

	blob, err := aliceSession.Serialise()
	if err != nil {
		t.Fatalf("Serialise: %v", err)
	}

	restored, err := proteus.Deserialise(blob, alice)
	if err != nil {
		t.Fatalf("Deserialise: %v", err)
	}
	if restored.RemoteIdentity().XPub != bob.Public().XPub {
		t.Fatalf("remote identity lost across round trip")
	}
	if !restored.SessionTag().Equal(aliceSession.SessionTag()) {
		t.Fatalf("session tag lost across round trip")
	}
	if !restored.HasPendingPreKey() {
		t.Fatalf("pending pre-key lost across round trip")
	}

	// The restored session must still be usable for further encryption.
	env, err := restored.Encrypt(ctx, []byte("after reload"))
	if err != nil {
		t.Fatalf("Encrypt after Deserialise: %v", err)
	}
	bobSession, plaintext, err := proteus.InitFromMessage(ctx, bob, bobStore, env)
	if err != nil {
		t.Fatalf("InitFromMessage: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("after reload")) {
		t.Fatalf("got %q, want %q", plaintext, "after reload")
	}
	_ = bobSession
}

func TestDeserialiseRejectsWrongLocalIdentity(t *testing.T) {
	ctx := context.Background()
	alice := newIdentity(t)
	bob := newIdentity(t)
	impostor := newIdentity(t)
	bobStore := store.NewFilePreKeyStore(t.TempDir())
	bundle := publishBundle(t, bobStore, bob, 1)

	aliceSession, err := proteus.InitFromPreKey(ctx, alice, bundle)
	if err != nil {
		t.Fatalf("InitFromPreKey: %v", err)
	}
	blob, err := aliceSession.Serialise()
	if err != nil {
		t.Fatalf("Serialise: %v", err)
	}

	if _, err := proteus.Deserialise(blob, impostor); err == nil {
		t.Fatalf("expected local identity mismatch to be rejected")
	} else {
		var pe *proteus.Error
		if !errors.As(err, &pe) || pe.Case != "CASE_300" {
			t.Fatalf("got %v, want CASE_300", err)
		}
	}
}

func TestDeserialiseRequiresRemoteIdentity(t *testing.T) {
	alice := newIdentity(t)
	if _, err := proteus.Deserialise(nil, alice); err == nil {
		t.Fatalf("expected empty encoding to fail with a missing remote identity")
	}
}

func TestKeyPairFingerprintStable(t *testing.T) {
	id := newIdentity(t)
	a := crypto.KeyPairFingerprint(id)
	b := crypto.IdentityFingerprint(id.Public())
	if a != b {
		t.Fatalf("KeyPairFingerprint and IdentityFingerprint diverged: %s vs %s", a, b)
	}
}
