/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// powerCmd represents the power command
var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Manage the chassis power state of servers",
	Long: `Provides subcommands to query and change the chassis power state through the
BMC. Power transitions are sent once and never retried.`,
	// No Run function, as this is a parent command
}

// bootCmd represents the boot command
var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Select the device used on next boot",
}

func init() {
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(newIdentifyCommand())

	powerCmd.AddCommand(textVerb("status", "Show the chassis power state", oob.Driver.PowerStatus))
	powerCmd.AddCommand(textVerb("cycle", "Power cycle the chassis", oob.Driver.PowerCycle))

	bootCmd.AddCommand(textVerb("pxe", "Boot from the network on next start", oob.Driver.BootPXE))
	bootCmd.AddCommand(textVerb("local", "Boot from the local disk on next start", oob.Driver.BootLocal))
}

func newIdentifyCommand() *cobra.Command {
	var opts oob.IdentifyOptions

	cmd := &cobra.Command{
		Use:   "identify <server>",
		Short: "Turn on the chassis identify light",
		Long: `Lights the chassis identify LED until turned off, or for --seconds when given.
Use --off to turn it off.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				out, err := t.Driver.Identify(ctx, opts)
				if err != nil {
					return nil, err
				}
				printText(cmd.OutOrStdout(), out)
				return nil, nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Seconds, "seconds", 0, "Light the LED for this many seconds")
	cmd.Flags().BoolVar(&opts.Off, "off", false, "Turn the LED off")
	cmd.MarkFlagsMutuallyExclusive("seconds", "off")
	return cmd
}
