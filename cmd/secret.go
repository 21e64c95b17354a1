package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/heaven-sync/internal/crypto"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Seal and check secrets kept in the environment",
	}
	cmd.AddCommand(newSecretEncryptCmd())
	return cmd
}

func newSecretEncryptCmd() *cobra.Command {
	var fromStdin bool
	c := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt HEAVEN_PASS (or stdin) with CRED_ENC_KEY and print HEAVEN_PASS_ENC",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("CRED_ENC_KEY")
			if key == "" {
				return errors.New("CRED_ENC_KEY is required; generate one with `heavensync keys`")
			}
			a, err := crypto.NewFromString(key)
			if err != nil {
				return fmt.Errorf("CRED_ENC_KEY: %w", err)
			}

			plain := os.Getenv("HEAVEN_PASS")
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read stdin: %w", err)
				}
				plain = strings.TrimRight(line, "\r\n")
			}
			if plain == "" {
				return errors.New("nothing to encrypt: set HEAVEN_PASS or use --stdin")
			}

			sealed, err := a.EncryptToString(plain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export HEAVEN_PASS_ENC=%s\n", sealed)
			return nil
		},
	}
	c.Flags().BoolVar(&fromStdin, "stdin", false, "read the password from the first line of stdin")
	return c
}
