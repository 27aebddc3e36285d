/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run monitoring checks against servers",
	Long: `Runs health checks and prints their verdicts in monitoring plugin format. The
exit status is the worst verdict: 0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.`,
	// No Run function, as this is a parent command
}

// sensorSource is implemented by drivers reading sensors through the IPMI tools.
type sensorSource interface {
	Sensors(ctx context.Context) ([]health.SensorReading, error)
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.AddCommand(newCheckIPMICommand())
	checkCmd.AddCommand(checkVerb("firmware", "Compare firmware versions with the expected ones", oob.Driver.CheckFirmware))
	checkCmd.AddCommand(newCheckCountCommand("disks", "Check the state and count of physical disks", oob.Driver.CheckDisks))
	checkCmd.AddCommand(newCheckCountCommand("ram", "Check the installed memory in GB", oob.Driver.CheckRAM))
}

// render prints a verdict and hands it to the manager for the exit status.
func render(cmd *cobra.Command, v health.Verdict, err error) (*health.Verdict, error) {
	if v.Prefix != "" {
		if rerr := v.Render(cmd.OutOrStdout()); rerr != nil {
			return nil, rerr
		}
	}
	return &v, err
}

func checkVerb(use, short string, check func(oob.Driver, context.Context) (health.Verdict, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, true, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				v, err := check(t.Driver, ctx)
				return render(cmd, v, err)
			})
		},
	}
}

func newCheckIPMICommand() *cobra.Command {
	var textfileDir string

	cmd := &cobra.Command{
		Use:   "ipmi <server>",
		Short: "Check sensors, the event log and power draw",
		Long: `Grades every sensor and the system event log. With --textfile-dir the sensor
readings and the verdict are also written as bmc_<server>.prom for the node
exporter textfile collector.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, true, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				v, err := t.Driver.CheckIPMI(ctx)
				if err == nil && textfileDir != "" {
					err = exportSensors(ctx, t, textfileDir, v)
				}
				return render(cmd, v, err)
			})
		},
	}
	cmd.Flags().StringVar(&textfileDir, "textfile-dir", "", "Directory receiving the metrics textfile")
	return cmd
}

func exportSensors(ctx context.Context, t *manager.Target, dir string, v health.Verdict) error {
	var sensors []health.SensorReading
	if s, ok := t.Driver.(sensorSource); ok {
		var err error
		if sensors, err = s.Sensors(ctx); err != nil {
			t.Logger.Warn("sensor export without readings", "error", err)
		}
	}
	path := filepath.Join(dir, "bmc_"+t.Record.Name+".prom")
	return health.WriteTextfile(path, t.Record.Name, sensors, v)
}

func newCheckCountCommand(use, short string, check func(oob.Driver, context.Context, *int) (health.Verdict, error)) *cobra.Command {
	var expected int

	cmd := &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want *int
			if cmd.Flags().Changed("expected") {
				want = &expected
			}
			return forEachTarget(cmd, args, true, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				v, err := check(t.Driver, ctx, want)
				return render(cmd, v, err)
			})
		},
	}
	cmd.Flags().IntVar(&expected, "expected", 0, "Expected count, a mismatch is CRITICAL")
	return cmd
}
