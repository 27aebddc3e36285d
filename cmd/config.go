package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "sample",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sample, err := config.Sample()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sample)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Long: `Loads the file given with --config-file, or the first file of the search path,
and reports the inventory sources and the vendor driver mapping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration is valid")
			fmt.Fprintf(w, "  search path: %s\n", strings.Join(config.SearchPaths(), ", "))
			fmt.Fprintf(w, "  default dcim: %s\n", cfg.DefaultDCIM)
			for _, name := range sortedKeys(cfg.DCIMs) {
				fmt.Fprintf(w, "  dcim %s: %s\n", name, cfg.DCIMs[name].Type)
			}
			for _, vendor := range sortedKeys(cfg.OOBs) {
				fmt.Fprintf(w, "  oob %s: driver %s\n", vendor, cfg.Driver(vendor, oob.Known))
			}
			fmt.Fprintf(w, "  drivers: %s (fallback %s)\n", strings.Join(oob.Names(), ", "), cfg.FallbackOOB)
			return nil
		},
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
