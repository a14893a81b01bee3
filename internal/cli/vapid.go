package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/amineprimesmr/myfidpass/internal/push"
)

type vapidKeys struct {
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key"`
	EnvFile    string `json:"env_file,omitempty"`
}

// NewVAPIDKeysCommand generates a VAPID key pair for browser pushes.
func NewVAPIDKeysCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for web push",
		Long: `Generate a P-256 key pair as base64url strings. With --out the pair is
written as WEBPUSH_VAPID_PRIVATE_KEY / WEBPUSH_VAPID_PUBLIC_KEY lines to a new
env file and only the public key (the browser applicationServerKey) is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			private, public, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			result := vapidKeys{PrivateKey: private, PublicKey: public}
			if out != "" {
				if err := writeEnvFile(out, private, public); err != nil {
					return err
				}
				result = vapidKeys{PublicKey: public, EnvFile: out}
			}
			return emit(cmd.OutOrStdout(), rootOpts, result, func(w io.Writer) {
				if out != "" {
					fmt.Fprintf(w, "keys written to %s\n", out)
				} else {
					fmt.Fprintf(w, "WEBPUSH_VAPID_PRIVATE_KEY=%s\n", private)
				}
				fmt.Fprintf(w, "WEBPUSH_VAPID_PUBLIC_KEY=%s\n", public)
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "env file to create with the key pair")
	return cmd
}

func writeEnvFile(path, private, public string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create env file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "WEBPUSH_VAPID_PRIVATE_KEY=%s\nWEBPUSH_VAPID_PUBLIC_KEY=%s\n", private, public); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}
