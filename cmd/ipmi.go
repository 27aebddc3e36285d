/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// ipmiCmd represents the ipmi command
var ipmiCmd = &cobra.Command{
	Use:   "ipmi",
	Short: "Manage the BMC itself",
	Long: `Provides subcommands acting on the BMC rather than the server: controller
resets, the system event log, sensors, the management shell, the BMC password
and the BMC address recorded in the inventory.`,
	// No Run function, as this is a parent command
}

func init() {
	rootCmd.AddCommand(ipmiCmd)
	rootCmd.AddCommand(newIPMIToolCommand())

	ipmiCmd.AddCommand(newIPMIResetCommand())
	ipmiCmd.AddCommand(tableVerb("logs", "Show the system event log", oob.Driver.IPMILogs))
	ipmiCmd.AddCommand(tableVerb("logs-analysed", "Show the decoded event log of Lenovo BMCs", oob.Driver.IPMILogsAnalysed))
	ipmiCmd.AddCommand(textVerb("clear-logs", "Clear the system event log", oob.Driver.ClearIPMILogs))
	ipmiCmd.AddCommand(newClearFirmwareUpgradeLogsCommand())
	ipmiCmd.AddCommand(tableVerb("sensors", "Show the sensor readings", oob.Driver.IPMISensors))
	ipmiCmd.AddCommand(tableVerb("creds", "Show the resolved BMC credentials", oob.Driver.Creds))
	ipmiCmd.AddCommand(newIPMISSHCommand())
	ipmiCmd.AddCommand(newSetPasswordCommand())
	ipmiCmd.AddCommand(newGetAddressCommand())
	ipmiCmd.AddCommand(newRefreshAddressCommand())
}

func newIPMIResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <server>",
		Short: "Reset the BMC",
		Long:  `Warm resets the management controller, or cold resets it with --force.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				out, err := t.Driver.IPMIReset(ctx, force)
				if err != nil {
					return nil, err
				}
				printText(cmd.OutOrStdout(), out)
				return nil, nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Cold reset the controller")
	return cmd
}

func newClearFirmwareUpgradeLogsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-firmware-upgrade-logs <server>",
		Short: "Clear the event log when it only holds firmware update records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				cleared, err := t.Driver.ClearFirmwareUpgradeLogs(ctx)
				if err != nil {
					return nil, err
				}
				if cleared {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: event log cleared\n", t.Record.Name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: event log kept, it holds other anomalies\n", t.Record.Name)
				}
				return nil, nil
			})
		},
	}
}

func newIPMISSHCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <server> [-- command...]",
		Short: "Open the BMC management shell",
		Long: `Opens an interactive shell on the BMC. Arguments after -- are run as a single
command instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, command := splitDash(cmd, args)
			return forEachTarget(cmd, query, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, t.Driver.IPMISSH(ctx, oob.ShellOptions{
					Command: command,
					Stdin:   os.Stdin,
					Stdout:  cmd.OutOrStdout(),
					Stderr:  cmd.ErrOrStderr(),
				})
			})
		},
	}
}

func newIPMIToolCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ipmitool <server> -- <args...>",
		Short: "Run ipmitool against the BMC with the resolved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, toolArgs := splitDash(cmd, args)
			if len(toolArgs) == 0 {
				return fmt.Errorf("no ipmitool arguments given after --")
			}
			return forEachTarget(cmd, query, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, t.Driver.IPMITool(ctx, toolArgs)
			})
		},
	}
}

// splitDash separates the server query from the arguments following "--".
func splitDash(cmd *cobra.Command, args []string) (query, rest []string) {
	at := cmd.ArgsLenAtDash()
	if at < 0 {
		return args, nil
	}
	return args[:at], args[at:]
}

func newSetPasswordCommand() *cobra.Command {
	var opts oob.PasswordOptions

	cmd := &cobra.Command{
		Use:   "set-password <server>",
		Short: "Change the BMC password of the current user",
		Long: `Changes the password of the BMC user the credentials belong to. The new
password is prompted for unless --new-password is given. With --secret-role the
new password is also stored in the inventory secret store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.NewPassword == "" {
				password, err := readPassword("New BMC password: ")
				if err != nil {
					return err
				}
				opts.NewPassword = password
			}
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, t.Driver.SetIPMIPassword(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.NewPassword, "new-password", "", "New BMC password")
	cmd.Flags().StringVar(&opts.SecretRole, "secret-role", "", "Inventory secret role to store the new password under")
	return cmd
}

func addAddressFlags(cmd *cobra.Command, opts *oob.AddressOptions) {
	cmd.Flags().StringVar((*string)(&opts.Type), "address-type", string(oob.AddressIPv4), "Address to read: ipv4 or mac")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "Domain appended to a MAC address")
	cmd.Flags().StringVar(&opts.Scheme, "scheme", "", "Scheme turning the address into a URL, e.g. https")
}

func newGetAddressCommand() *cobra.Command {
	var opts oob.AddressOptions

	cmd := &cobra.Command{
		Use:   "get-address <server>",
		Short: "Read the BMC address from its LAN configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				addr, err := t.Driver.GetIPMIAddress(ctx, opts)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.Record.Name, addr)
				return nil, nil
			})
		},
	}
	addAddressFlags(cmd, &opts)
	return cmd
}

func newRefreshAddressCommand() *cobra.Command {
	var opts oob.AddressOptions

	cmd := &cobra.Command{
		Use:   "refresh-address <server>",
		Short: "Store the BMC address in the inventory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, t.Driver.RefreshIPMIAddress(ctx, opts)
			})
		},
	}
	addAddressFlags(cmd, &opts)
	return cmd
}
