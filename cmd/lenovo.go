/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// lenovoCmd represents the lenovo command
var lenovoCmd = &cobra.Command{
	Use:   "lenovo",
	Short: "Lenovo specific BMC operations",
	Long: `Provides subcommands using the session RPC interface of Lenovo BMCs. They
fail with an unsupported operation error on other vendors.`,
	// No Run function, as this is a parent command
}

func init() {
	rootCmd.AddCommand(lenovoCmd)

	lenovoCmd.AddCommand(newLenovoRPCCommand())
	lenovoCmd.AddCommand(tableVerb("disks", "Show the physical disks", oob.Driver.GetDisks))
	lenovoCmd.AddCommand(tableVerb("ram", "Show the installed memory in GB", oob.Driver.SystemRAM))
	lenovoCmd.AddCommand(newFactoryResetCommand())
	lenovoCmd.AddCommand(actionVerb("lock-power-switch", "Disable the front panel power button", oob.Driver.LockPowerSwitch))
	lenovoCmd.AddCommand(actionVerb("unlock-power-switch", "Enable the front panel power button", oob.Driver.UnlockPowerSwitch))
}

// parseParams decodes RPC parameters given as JSON. Comments and trailing
// commas are accepted.
func parseParams(s string) (map[string]any, error) {
	params := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return params, nil
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(s)), &params); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "--params is not a JSON object")
	}
	return params, nil
}

func newLenovoRPCCommand() *cobra.Command {
	var (
		name   string
		params string
	)

	cmd := &cobra.Command{
		Use:   "rpc <server>",
		Short: "Call a session RPC function",
		Long: `Calls the RPC function named by --rpc with the JSON object given in --params
and prints the records it returns. "lenovo rpc list" shows the known functions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				table, err := t.Driver.RPC(ctx, name, p)
				if err != nil {
					return nil, err
				}
				printTable(cmd.OutOrStdout(), table)
				return nil, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "rpc", "", "RPC function to call")
	cmd.Flags().StringVar(&params, "params", "", "RPC parameters as a JSON object")
	_ = cmd.MarkFlagRequired("rpc")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the known RPC functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printTable(cmd.OutOrStdout(), oob.LenovoRPCs())
			return nil
		},
	})
	return cmd
}

// confirm asks a yes/no question on w. Anything but y or yes declines.
func confirm(in *bufio.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N] ", question)
	answer, _ := in.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func newFactoryResetCommand() *cobra.Command {
	var (
		force bool
		opts  oob.FactoryResetOptions
	)

	cmd := &cobra.Command{
		Use:   "factory-reset <server>",
		Short: "Restore the BMC factory defaults",
		Long: `Resets the BMC configuration to factory defaults without preserving any
setting. Asks for confirmation unless --force is given. With --wait the command
returns once the BMC accepts sessions again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				if !force && !confirm(in, cmd.ErrOrStderr(), fmt.Sprintf("Factory reset %s?", t.Record.Name)) {
					t.Logger.Info("factory reset declined")
					return nil, nil
				}
				return nil, t.Driver.FactoryReset(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "Wait until the BMC is back")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", oob.DefaultFactoryResetTimeout, "Maximum time to wait with --wait")
	return cmd
}
