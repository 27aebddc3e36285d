package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

var powerOffOpts oob.PowerOffOptions

// powerOffCmd represents the power off command
var powerOffCmd = &cobra.Command{
	Use:   "off <server>",
	Short: "Power off the chassis",
	Long: `Requests an ACPI shutdown of the server. --force cuts power instead, and --wait
blocks until the chassis reports off or --timeout elapses.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
			out, err := t.Driver.PowerOff(ctx, powerOffOpts)
			if err != nil {
				return nil, err
			}
			printText(cmd.OutOrStdout(), out)
			return nil, nil
		})
	},
}

func init() {
	powerCmd.AddCommand(powerOffCmd)

	powerOffCmd.Flags().BoolVar(&powerOffOpts.Force, "force", false, "Cut power instead of a soft shutdown")
	powerOffCmd.Flags().BoolVar(&powerOffOpts.Wait, "wait", false, "Wait until the chassis is off")
	powerOffCmd.Flags().DurationVar(&powerOffOpts.Timeout, "timeout", oob.DefaultPowerWaitTimeout, "Maximum time to wait with --wait")
}
