/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// secretsCmd represents the secrets command
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Read and store BMC credentials in the inventory secret store",
	// No Run function, as this is a parent command
}

func init() {
	rootCmd.AddCommand(secretsCmd)

	secretsCmd.AddCommand(newSecretsGetCommand())
	secretsCmd.AddCommand(newSecretsSetCommand())
}

// eachRecord runs fn on every inventory record matching the query, without
// resolving credentials. The source must support secrets.
func eachRecord(cmd *cobra.Command, args []string, fn func(ctx context.Context, src dcim.Source, t *dcim.TargetRecord) error) error {
	src, err := source()
	if err != nil {
		return err
	}
	if !src.SupportsSecrets() {
		return errors.New(errors.ErrUnsupported, "inventory source has no secret store")
	}
	f, err := filter(args)
	if err != nil {
		return err
	}
	targets, err := src.ListTargets(cmd.Context(), f)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.Newf(errors.ErrNotFound, "no targets match %q", f.Query)
	}
	for _, t := range targets {
		if err := fn(cmd.Context(), src, t); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
	}
	return nil
}

func newSecretsGetCommand() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "get <server>",
		Short: "Show the secret stored under a role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := oob.NewTable("name", "role", "username", "password")
			err := eachRecord(cmd, args, func(ctx context.Context, src dcim.Source, t *dcim.TargetRecord) error {
				secret, err := src.GetSecret(ctx, role, t)
				if err != nil {
					return err
				}
				table.AddRow(t.Name, role, secret.Username, secret.Password)
				return nil
			})
			if err != nil {
				return err
			}
			printTable(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Secret role")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	var role, name, plaintext string

	cmd := &cobra.Command{
		Use:   "set <server>",
		Short: "Create or update the secret stored under a role",
		Long: `Stores a secret named --name under --role. The secret is prompted for unless
--secret is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if plaintext == "" {
				var err error
				if plaintext, err = readPassword("Secret: "); err != nil {
					return err
				}
			}
			return eachRecord(cmd, args, func(ctx context.Context, src dcim.Source, t *dcim.TargetRecord) error {
				return src.SetSecret(ctx, role, t, name, plaintext)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Secret role")
	cmd.Flags().StringVar(&name, "name", "", "Secret name, usually the BMC username")
	cmd.Flags().StringVar(&plaintext, "secret", "", "Secret value")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
