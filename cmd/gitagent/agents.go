package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAgentsCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, inspect and restart agents",
	}
	cmd.AddCommand(newAgentsLsCmd(opts), newAgentsGetCmd(opts), newAgentsRestartCmd(opts), newAgentsLogsCmd(opts))
	return cmd
}

func newAgentsLsCmd(opts *globalOpts) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context(), repo)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), agents, func(w io.Writer) { printAgents(w, agents) })
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "only agents of this repository URL")
	return cmd
}

func newAgentsGetCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "get <hash>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			a, err := c.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), a, func(w io.Writer) { printAgent(w, a) })
		},
	}
}

func newAgentsRestartCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <hash>",
		Short: "Pull, reinstall and relaunch an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			a, err := c.RestartAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), a, func(w io.Writer) {
				fmt.Fprintf(w, "Agent %s restarted (pid %s)\n", a.BranchHash, pidString(a.PID))
			})
		},
	}
}

func newAgentsLogsCmd(opts *globalOpts) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <hash>",
		Short: "Print recent agent output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			logs, err := c.Logs(cmd.Context(), args[0], lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, l := range logs {
				fmt.Fprintln(out, l)
			}
			if !follow {
				return nil
			}
			return c.FollowLogs(cmd.Context(), args[0], func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "number of lines (server default 50, max 1000)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new lines")
	return cmd
}

