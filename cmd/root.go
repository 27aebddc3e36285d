/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/manager"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

var (
	rootCmd = &cobra.Command{
		Use:   "bmcmanager",
		Short: "Out-of-band management of data center servers",
		Long: `bmcmanager drives the baseboard management controllers of servers listed in
an inventory source. Targets are selected with a query, credentials come from the
inventory secret store, the command line or the configuration file, and each verb
is dispatched to the driver matching the server vendor.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	// Global flags
	configFile  string
	dcimName    string
	filterKind  string
	oobVendor   string
	askPassword bool
	verbosity   int
	override    credentials.Override
	logOptions  = log.NewOptions()

	cfg      *config.Config
	exitCode int
)

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&configFile, "config-file", "c", "", "Path to the configuration file")
	fs.StringVar(&dcimName, "dcim", "", "Inventory source to query (defaults to default_dcim)")
	fs.StringVarP(&filterKind, "type", "t", string(dcim.FilterSearch), "How the server query is matched: search, name, rack or serial")
	fs.StringVar(&oobVendor, "oob", "", "Vendor of servers given directly by address")
	fs.StringVarP(&override.Username, "username", "u", "", "BMC username")
	fs.StringVarP(&override.Password, "password", "p", "", "BMC password")
	fs.BoolVar(&askPassword, "ask-password", false, "Prompt for the BMC password")
	fs.StringVar(&override.NFSShare, "nfs-share", "", "NFS share for support reports")
	fs.StringVar(&override.HTTPShare, "http-share", "", "HTTP share serving the update catalog")
	fs.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	logOptions.AddFlags(fs)
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func setup(cmd *cobra.Command, _ []string) error {
	logOptions.ApplyVerbosity(verbosity)
	if err := log.Init(logOptions); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}

	override = override.FromEnv()
	if askPassword {
		if override.Password, err = readPassword("BMC password: "); err != nil {
			return err
		}
	}
	return nil
}

// readPassword prompts on stderr and reads a password without echo.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// source opens the selected inventory source.
func source() (dcim.Source, error) {
	dcfg, err := cfg.DCIM(dcimName)
	if err != nil {
		return nil, err
	}
	return dcim.New(dcfg, dcim.Options{Vendor: oobVendor}, log.Std())
}

func filter(args []string) (dcim.Filter, error) {
	kind, err := dcim.ParseFilterKind(filterKind)
	if err != nil {
		return dcim.Filter{}, err
	}
	return dcim.Filter{Query: strings.Join(args, " "), Kind: kind}, nil
}

// forEachTarget runs action on every server matching the query arguments and
// records the exit status of the run.
func forEachTarget(cmd *cobra.Command, args []string, check bool, action manager.Action) error {
	src, err := source()
	if err != nil {
		return err
	}
	f, err := filter(args)
	if err != nil {
		return err
	}

	m, err := manager.New(manager.Options{
		Config:   cfg,
		Source:   src,
		Resolver: credentials.NewResolver(src, cfg, override, log.Std()),
		Logger:   log.Std(),
	})
	if err != nil {
		return err
	}

	summary, err := m.Run(cmd.Context(), f, action)
	if err != nil {
		return err
	}
	for _, r := range summary.Failed() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Target, r.Err)
	}
	exitCode = summary.ExitCode(check)
	log.Debug("run finished", "summary", summary.String())
	return nil
}

// textVerb builds a command printing the raw output of a driver verb.
func textVerb(use, short string, verb func(oob.Driver, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				out, err := verb(t.Driver, ctx)
				if err != nil {
					return nil, err
				}
				printText(cmd.OutOrStdout(), out)
				return nil, nil
			})
		},
	}
}

// tableVerb builds a command printing the table returned by a driver verb.
func tableVerb(use, short string, verb func(oob.Driver, context.Context) (*oob.Table, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				table, err := verb(t.Driver, ctx)
				if err != nil {
					return nil, err
				}
				printTable(cmd.OutOrStdout(), table)
				return nil, nil
			})
		},
	}
}

// actionVerb builds a command for a driver verb without output.
func actionVerb(use, short string, verb func(oob.Driver, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachTarget(cmd, args, false, func(ctx context.Context, t *manager.Target) (*health.Verdict, error) {
				return nil, verb(t.Driver, ctx)
			})
		},
	}
}
