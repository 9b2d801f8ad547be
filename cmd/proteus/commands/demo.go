package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proteus"
	"proteus/internal/crypto"
	"proteus/internal/domain"
	"proteus/internal/ratchet"
	"proteus/internal/store"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a handshake and message exchange between two in-memory identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd)
		},
	}
}

func runDemo(cmd *cobra.Command) error {
	ctx := context.Background()

	alice, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return err
	}
	bob, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "proteus-demo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	bobPreKeys := store.NewFilePreKeyStore(dir)
	bobPreKeyPriv, bobPreKeyPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	bobPreKey := domain.PreKey{ID: 1, Private: bobPreKeyPriv, Public: bobPreKeyPub}
	if err := bobPreKeys.SavePreKeys(ctx, []domain.PreKey{bobPreKey}); err != nil {
		return err
	}

	bundle := domain.PreKeyBundle{
		IdentityKey:     bob.Public(),
		PreKeyID:        bobPreKey.ID,
		PreKeyPublic:    bobPreKey.Public,
		PreKeySignature: crypto.SignEd25519(bob.EdPriv, bobPreKey.Public.Slice()),
	}
	if !ratchet.VerifyPreKeyBundle(bundle) {
		return fmt.Errorf("demo: bundle signature failed to verify")
	}

	aliceSession, err := proteus.InitFromPreKey(ctx, alice, bundle)
	if err != nil {
		return err
	}

	env, err := aliceSession.Encrypt(ctx, []byte("hello from alice"))
	if err != nil {
		return err
	}

	bobSession, plaintext, err := proteus.InitFromMessage(ctx, bob, bobPreKeys, env)
	if err != nil {
		return err
	}
	fmt.Printf("bob received: %q\n", string(plaintext))

	reply, err := bobSession.Encrypt(ctx, []byte("hello back from bob"))
	if err != nil {
		return err
	}
	replyPlaintext, err := aliceSession.Decrypt(ctx, bobPreKeys, reply)
	if err != nil {
		return err
	}
	fmt.Printf("alice received: %q\n", string(replyPlaintext))

	blob, err := aliceSession.Serialise()
	if err != nil {
		return err
	}
	fmt.Printf("alice session serialised to %d bytes\n", len(blob))
	return nil
}
