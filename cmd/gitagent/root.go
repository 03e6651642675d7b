package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/gitagent/internal/client"
	"github.com/ssd-technologies/gitagent/internal/identity"
	"github.com/ssd-technologies/gitagent/internal/storage"
)

type globalOpts struct {
	server string
	token  string
	json   bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:           "gitagent",
		Short:         "Inspect and control agents deployed by gitagentd",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("GITAGENT_SERVER", "http://localhost:3005"), "gitagentd base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("GITAGENT_API_TOKEN"), "Control API bearer token")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newAgentsCmd(opts),
		newSecretsCmd(opts),
		newMetricsCmd(opts),
		newHashCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *globalOpts) client() (*client.Client, error) {
	return client.New(o.server, o.token)
}

// emit prints v as indented JSON when --json is set, otherwise calls text.
func (o *globalOpts) emit(w io.Writer, v any, text func(w io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <repo-url> <branch>",
		Short: "Compute the identity hash of a branch",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), identity.Hash(args[0], args[1]))
		},
	}
}

func printAgents(w io.Writer, agents []storage.Agent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tBRANCH\tSTATUS\tPID\tADDRESS\tUPDATED")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.BranchHash, a.BranchName, a.Status, pidString(a.PID), orDash(a.Address()), a.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printAgent(w io.Writer, a *storage.Agent) {
	fmt.Fprintf(w, "Hash:       %s\n", a.BranchHash)
	fmt.Fprintf(w, "Repository: %s\n", a.RepoURL)
	fmt.Fprintf(w, "Branch:     %s\n", a.BranchName)
	fmt.Fprintf(w, "Status:     %s\n", a.Status)
	fmt.Fprintf(w, "PID:        %s\n", pidString(a.PID))
	fmt.Fprintf(w, "Address:    %s\n", orDash(a.Address()))
	fmt.Fprintf(w, "Created:    %s\n", a.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Updated:    %s\n", a.UpdatedAt.Local().Format(time.DateTime))
}

func pidString(pid *int) string {
	if pid == nil {
		return "-"
	}
	return strconv.Itoa(*pid)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
