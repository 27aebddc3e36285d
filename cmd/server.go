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

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Inspect servers and connect to them",
	// No Run function, as this is a parent command
}

// openCmd represents the open command
var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the BMC web interface or the inventory page of a server",
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(openCmd)

	serverCmd.AddCommand(newServerListCommand())
	serverCmd.AddCommand(tableVerb("info", "Show the inventory record of a server", oob.Driver.Info))
	serverCmd.AddCommand(tableVerb("status", "Show the chassis status", oob.Driver.Status))
	serverCmd.AddCommand(tableVerb("creds", "Show the resolved BMC credentials", oob.Driver.Creds))
	serverCmd.AddCommand(newServerSSHCommand())

	openCmd.AddCommand(actionVerb("web", "Open the BMC web interface in a browser", oob.Driver.Open))
	openCmd.AddCommand(actionVerb("dcim", "Open the inventory page of a server in a browser", oob.Driver.OpenDCIM))

	rootCmd.AddCommand(actionVerb("console", "Launch the vendor remote console", oob.Driver.Console))
}

func newServerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <query>",
		Short: "List the servers matching a query",
		Long: `Lists the servers the inventory source returns for the query, without
contacting any BMC.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := source()
			if err != nil {
				return err
			}
			f, err := filter(args)
			if err != nil {
				return err
			}
			targets, err := src.ListTargets(cmd.Context(), f)
			if err != nil {
				return err
			}

			table := oob.NewTable("name", "identifier", "vendor", "address", "asset_tag")
			for _, t := range targets {
				table.AddRow(t.Name, t.Identifier, t.Vendor, t.Address, t.AssetTag)
			}
			printTable(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newServerSSHCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "ssh <server>",
		Short: "Open an SSH session to the server operating system",
		Long: `Connects to the server through its asset tag. With --wait the command first
waits until the chassis reports power on.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, t.Driver.ServerSSH(ctx, wait)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the server to power on")
	return cmd
}
