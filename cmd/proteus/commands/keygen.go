package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"proteus/internal/crypto"
	"proteus/internal/store"
)

func keygenCmd() *cobra.Command {
	var out, passphrase string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a long-term identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crypto.GenerateIdentityKeyPair()
			if err != nil {
				return err
			}
			if err := store.SaveIdentity(out, id, passphrase); err != nil {
				return err
			}
			fmt.Printf("identity written to %s (fingerprint %s)\n", out, crypto.KeyPairFingerprint(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path to write the identity file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "seal the identity file with a passphrase")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
