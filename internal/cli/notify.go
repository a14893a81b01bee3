package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/logging"
	"github.com/amineprimesmr/myfidpass/internal/notifier"
)

// NewNotifyCommand pushes a change notification for serials without
// modifying their balance.
func NewNotifyCommand(rootOpts *RootOptions) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "notify <serial>...",
		Short: "Ask devices to refresh passes",
		Long: `Mark the passes as changed and push to every registered device.

Useful after editing a tenant's branding, or to check push credentials.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			report := svcs.Notifier.NotifyChanged(cmd.Context(), args, notifier.WithMessage(message))
			return emit(cmd.OutOrStdout(), rootOpts, report, func(w io.Writer) {
				printReport(w, report)
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "message shown by browser subscribers")
	return cmd
}

func printReport(w io.Writer, r notifier.Report) {
	fmt.Fprintf(w, "sent: %d  failed: %d  skipped: %d  pruned: %d\n", r.Sent, r.Failed, r.Skipped, r.Pruned)
	for _, f := range r.Failures {
		kind := "transient"
		if f.Permanent {
			kind = "permanent"
		}
		fmt.Fprintf(w, "  %s %s/%s %s: %s\n", f.Transport, f.Serial, f.DeviceID, kind, f.Reason)
	}
}
