/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/firmware"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// firmwareCmd represents the firmware command
var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Inspect and update component firmware",
	// No Run function, as this is a parent command
}

func init() {
	rootCmd.AddCommand(firmwareCmd)

	firmwareCmd.AddCommand(tableVerb("get", "Show the firmware versions reported by the BMC", oob.Driver.GetFirmware))
	firmwareCmd.AddCommand(actionVerb("refresh", "Store the firmware versions in the inventory", oob.Driver.RefreshFirmware))
	firmwareCmd.AddCommand(newFirmwareUpgradeCommand())
}

type upgradeFlags struct {
	stages    string
	handle    string
	component string
	timeout   int
	bundle    string
}

// options turns the flags into orchestrator options. The bundle is opened by
// the caller since every target needs its own reader.
func (f upgradeFlags) options() (firmware.Options, error) {
	stages, err := firmware.ParseStages(f.stages)
	if err != nil {
		return firmware.Options{}, err
	}
	opts := firmware.Options{
		Stages:  stages,
		Handle:  f.handle,
		Timeout: time.Duration(f.timeout) * time.Minute,
	}
	if f.component != "" {
		if opts.Component, err = firmware.ParseComponent(f.component); err != nil {
			return firmware.Options{}, err
		}
	}
	if f.bundle != "" {
		opts.BundleName = filepath.Base(f.bundle)
	}
	return opts, nil
}

func newFirmwareUpgradeCommand() *cobra.Command {
	var flags upgradeFlags

	cmd := &cobra.Command{
		Use:   "upgrade <server>",
		Short: "Update firmware through the BMC session RPC",
		Long: `Runs the firmware update stages against the BMC:

   1 enter update mode          6 replace the previous bundle
   2 rearm the update timer     7 detect an available update
   3 upload the bundle          8 select the component
   4 confirm the upload         9 poll the update progress
   5 validate the bundle       10 exit update mode

--stages selects a subset, e.g. "1-4" then "7-10" with the --handle printed by
the first run. A run that finds no newer firmware stops after stage 7.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := flags.options()
			if err != nil {
				return err
			}
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				opts := base
				if flags.bundle != "" {
					f, err := os.Open(flags.bundle)
					if err != nil {
						return nil, errors.Wrap(err, errors.ErrInvalidInput, "failed to open firmware bundle")
					}
					defer f.Close()
					opts.Bundle = f
				}

				res, err := t.Driver.FirmwareUpgrade(ctx, opts)
				if res != nil {
					printUpgrade(cmd, t.Record.Name, res)
				}
				return nil, err
			})
		},
	}
	cmd.Flags().StringVar(&flags.stages, "stages", "", "Stages to run, e.g. 1-4,7 (default all)")
	cmd.Flags().StringVar(&flags.handle, "handle", "", "Update session handle of a previous run")
	cmd.Flags().StringVar(&flags.component, "component", "", "Component of a previous run, as devtype/slot/identifier")
	cmd.Flags().IntVar(&flags.timeout, "timeout", int(firmware.DefaultTimeout/time.Minute), "Minutes to wait for the update to finish")
	cmd.Flags().StringVar(&flags.bundle, "bundle", "", "Firmware bundle to upload")
	return cmd
}

func printUpgrade(cmd *cobra.Command, name string, res *firmware.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s\n", name, res.Outcome)
	if res.Handle != "" {
		fmt.Fprintf(w, "  handle: %s\n", res.Handle)
	}
	if res.Component != nil {
		fmt.Fprintf(w, "  component: %s (%s -> %s)\n", res.Component, res.Component.Current, res.Component.New)
	}
	for _, a := range res.Anomalies {
		fmt.Fprintf(w, "  anomaly: %s\n", a)
	}
}
