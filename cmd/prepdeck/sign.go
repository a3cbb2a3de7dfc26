package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kchenfs/PrepDeck/internal/pkg/signature"
)

func newSignCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign <file|->",
		Short: "Print the X-Uber-Signature value for a webhook payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := webhookSecret(secret)
			if key == "" {
				return errors.New("no secret: pass --secret or set WEBHOOK_SECRET")
			}
			body, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(key, body))
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to WEBHOOK_SECRET, then UBER_CLIENT_SECRET)")
	return cmd
}

func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
