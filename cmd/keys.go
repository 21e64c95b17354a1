package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/heaven-sync/internal/auth"
	"github.com/example/heaven-sync/internal/crypto"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate a webhook token with its AUTH_TOKEN_BCRYPT hash, and a CRED_ENC_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# give this token to the webhook caller\n")
			fmt.Fprintf(out, "WEBHOOK_TOKEN=%s\n", token)
			fmt.Fprintf(out, "export AUTH_TOKEN_BCRYPT='%s'\n", hash)
			fmt.Fprintf(out, "export CRED_ENC_KEY=%s\n", key)
			return nil
		},
	}
}
