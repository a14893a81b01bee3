package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/logging"
	"github.com/amineprimesmr/myfidpass/internal/seed"
)

// NewSeedCommand applies a YAML fixture file to the configured store.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Load tenants and cards from a fixture file",
		Long: `Create the tenants and cards described in a YAML fixture file.

Existing tenants and cards are left untouched. API keys of newly created
tenants are printed once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, "passctl")

			svcs, cleanup, err := openServices(cmd.Context(), cfg, logger)
			defer cleanup()
			if err != nil {
				return err
			}
			res, err := seed.Apply(cmd.Context(), svcs.Tenants, svcs.Loyalty, fx, logger)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
				fmt.Fprintf(w, "tenants created: %d\naccounts created: %d\n", res.Tenants, res.Accounts)
				ids := make([]string, 0, len(res.APIKeys))
				for id := range res.APIKeys {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(w, "%s\t%s\n", id, res.APIKeys[id])
				}
			})
		},
	}
	return cmd
}
