// Package app wires configuration, wallets, the routing client and the
// engine into the CLI commands.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/privatekey7/evm-farmer-pro/internal/config"
	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
	"github.com/privatekey7/evm-farmer-pro/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner     *Runner
	configPath string
	cfg        config.Config
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(r.stderr, "error:", err)
		return clierr.ExitCode(err)
	}
	return 0
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain balance consolidation engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			path := s.configPath
			if path == "" {
				if _, err := os.Stat("config.yaml"); err == nil {
					path = "config.yaml"
				}
			}
			cfg, err := config.Load(path)
			if err != nil {
				return clierr.Wrap(clierr.CodeConfig, "load configuration", err)
			}
			s.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&s.configPath, "config", "", "path to config.yaml")

	cmd.AddCommand(s.newRunCommand())
	cmd.AddCommand(s.newPreviewCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Long())
			return nil
		},
	}
}

// buildLogger constructs the structured logger behind the console
// output. Console lines go to stdout directly; the logger carries the
// machine-readable trail.
func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("log level %q", level), err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
