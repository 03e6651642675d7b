package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/gitagent/internal/config"
	"github.com/ssd-technologies/gitagent/internal/crypto"
	"github.com/ssd-technologies/gitagent/internal/identity"
)

type globalFlags struct {
	configPath string
	addr       string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "gitagentd",
		Short:         "Deploy agents from git pushes",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML or TOML config file")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "listen address (overrides config and PORT)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "text or json")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newServeCmd(&flags),
		newReconcileCmd(&flags),
		newHashCmd(),
		newGenkeyCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies command-line overrides.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	lvl, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <repo-url> <branch>",
		Short: "Print the identity hash and process name of a branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := identity.Hash(args[0], args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "branch_hash:  %s\nprocess_name: %s\n", h, identity.ProcessName(h))
			return nil
		},
	}
}

func newGenkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Print a fresh master secret for the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print gitagentd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gitagentd %s\n", version)
		},
	}
}
