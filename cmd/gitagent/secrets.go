package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/gitagent/internal/client"
)

func newSecretsCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage agent secrets",
	}
	cmd.AddCommand(newSecretsSetCmd(opts), newSecretsLsCmd(opts))
	return cmd
}

func newSecretsSetCmd(opts *globalOpts) *cobra.Command {
	var ref client.Ref
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store an encrypted secret for an agent",
		Long: `Store an encrypted secret for an agent.

Name the agent with --hash, or with --repo and --branch. The secret is
injected into the agent's environment on its next launch.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref.BranchHash == "" && (ref.RepoURL == "" || ref.BranchName == "") {
				return errors.New("either --hash or both --repo and --branch are required")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.SetSecret(cmd.Context(), ref, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s saved\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&ref.BranchHash, "hash", "", "agent identity hash")
	cmd.Flags().StringVar(&ref.RepoURL, "repo", "", "repository URL")
	cmd.Flags().StringVar(&ref.BranchName, "branch", "", "branch name")
	return cmd
}

func newSecretsLsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <hash>",
		Short: "List secret keys of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			keys, err := c.SecretKeys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}
}
