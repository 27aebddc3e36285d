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

// dellCmd represents the dell command
var dellCmd = &cobra.Command{
	Use:   "dell",
	Short: "Dell specific BMC operations",
	Long: `Provides subcommands running racadm on the iDRAC management shell. Support
reports need --nfs-share and updates need --http-share, or the matching
settings of the dell OOB profile.`,
	// No Run function, as this is a parent command
}

func init() {
	rootCmd.AddCommand(dellCmd)

	dellCmd.AddCommand(actionVerb("diagnostics", "Collect a support report and export it to the NFS share", oob.Driver.Diagnostics))
	dellCmd.AddCommand(textVerb("autoupdate", "Schedule daily updates from the HTTP share catalog", oob.Driver.AutoUpdate))
	dellCmd.AddCommand(textVerb("clear-autoupdate", "Disable scheduled updates", oob.Driver.ClearAutoUpdate))
	dellCmd.AddCommand(textVerb("upgrade", "Update firmware from the HTTP share catalog now", oob.Driver.Upgrade))
	dellCmd.AddCommand(textVerb("idrac-info", "Show the iDRAC system information", oob.Driver.IDRACInfo))
	dellCmd.AddCommand(textVerb("flush-jobs", "Delete every job in the iDRAC job queue", oob.Driver.FlushJobs))
	dellCmd.AddCommand(newStorageStatusCommand())
}

func newStorageStatusCommand() *cobra.Command {
	var view string

	cmd := &cobra.Command{
		Use:   "storage-status <server>",
		Short: "Show the storage controllers and disks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				out, err := t.Driver.StorageStatus(ctx, oob.StorageView(view))
				if err != nil {
					return nil, err
				}
				printText(cmd.OutOrStdout(), out)
				return nil, nil
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", string(oob.StorageSummary), "Report to show: status, pdisks or controllers")
	return cmd
}
