package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/amineprimesmr/myfidpass/internal/passauth"
)

// NewTokenCommand prints the pass authentication token for serials.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "token <serial>...",
		Short: "Print the ApplePass authentication token of passes",
		Long: `Print the authentication token a device must present for each serial.

The secret defaults to PASS_AUTH_SECRET.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("PASS_AUTH_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or PASS_AUTH_SECRET is required")
			}
			signer := passauth.NewSigner(secret)
			tokens := make(map[string]string, len(args))
			for _, serial := range args {
				tokens[serial] = signer.Token(serial)
			}
			return emit(cmd.OutOrStdout(), rootOpts, tokens, func(w io.Writer) {
				for _, serial := range args {
					fmt.Fprintf(w, "%s\t%s\n", serial, tokens[serial])
				}
			})
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "pass auth secret")
	return cmd
}
