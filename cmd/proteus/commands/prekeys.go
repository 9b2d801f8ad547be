package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"proteus/internal/crypto"
	"proteus/internal/domain"
	"proteus/internal/store"
)

func prekeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prekeys",
		Short: "Manage one-time pre-keys",
	}
	cmd.AddCommand(prekeysGenerateCmd())
	return cmd
}

func prekeysGenerateCmd() *cobra.Command {
	var identityPath, storeDir, passphrase string
	var count int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one-time pre-keys plus the last-resort pre-key, and print a publishable bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := store.LoadIdentity(identityPath, passphrase)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}

			s := store.NewFilePreKeyStore(storeDir)

			keys := make([]domain.PreKey, 0, count+1)
			for i := 0; i < count; i++ {
				priv, pub, err := crypto.GenerateX25519()
				if err != nil {
					return err
				}
				keys = append(keys, domain.PreKey{ID: uint16(i + 1), Private: priv, Public: pub})
			}
			lastResortPriv, lastResortPub, err := crypto.GenerateX25519()
			if err != nil {
				return err
			}
			keys = append(keys, domain.PreKey{ID: domain.MaxPreKeyID, Private: lastResortPriv, Public: lastResortPub})

			if err := s.SavePreKeys(ctx, keys); err != nil {
				return fmt.Errorf("save pre-keys: %w", err)
			}

			bundle := domain.PreKeyBundle{
				IdentityKey:     id.Public(),
				PreKeyID:        keys[0].ID,
				PreKeyPublic:    keys[0].Public,
				PreKeySignature: crypto.SignEd25519(id.EdPriv, keys[0].Public.Slice()),
			}
			out, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&identityPath, "identity", "", "path to the identity file")
	cmd.Flags().StringVar(&storeDir, "store", "", "directory to store pre-keys in")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase protecting the identity file")
	cmd.Flags().IntVar(&count, "count", 10, "number of one-time pre-keys to generate")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}
