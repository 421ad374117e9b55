package app

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/privatekey7/evm-farmer-pro/internal/balance"
	"github.com/privatekey7/evm-farmer-pro/internal/config"
	"github.com/privatekey7/evm-farmer-pro/internal/engine"
	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
	"github.com/privatekey7/evm-farmer-pro/internal/relay"
	"github.com/privatekey7/evm-farmer-pro/internal/rpc"
	"github.com/privatekey7/evm-farmer-pro/internal/run"
	"github.com/privatekey7/evm-farmer-pro/internal/wallets"
)

func (s *runtimeState) newRunCommand() *cobra.Command {
	var (
		mode     string
		targets  []string
		keysFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every wallet once under the configured policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := s.cfg
			if mode != "" {
				cfg.Mode = mode
			}
			if len(targets) > 0 {
				cfg.TargetChains = targets
			}
			if keysFile != "" {
				cfg.KeysFile = keysFile
			}
			if err := cfg.Validate(); err != nil {
				return clierr.Wrap(clierr.CodeConfig, "validate configuration", err)
			}
			var overridden []string
			cmd.Flags().Visit(func(f *pflag.Flag) {
				overridden = append(overridden, f.Name)
			})
			if len(overridden) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "flag overrides: %s\n", strings.Join(overridden, ", "))
			}
			return s.executeRun(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override run mode (consolidate, swap-only, stable-fix)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "override target chains")
	cmd.Flags().StringVar(&keysFile, "keys", "", "override private key file")
	return cmd
}

func (s *runtimeState) executeRun(cmd *cobra.Command, cfg config.Config) error {
	signers, err := wallets.Load(cfg.KeysFile)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "load wallets", err)
	}
	balances, err := balance.LoadFile(cfg.BalancesFile)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "load balances", err)
	}
	tasks := make([]engine.WalletTask, 0, len(signers))
	for _, sg := range signers {
		addr := strings.ToLower(sg.Address().Hex())
		tasks = append(tasks, engine.WalletTask{Signer: sg, Records: balances[addr]})
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, err := run.OpenJournal(cfg.JournalPath, cfg.JournalLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open journal", err)
	}
	defer journal.Close()

	sink := run.NewSink(logger, cfg.LogInterval())
	controller := run.NewController()
	session, runCtx, err := controller.Begin(cmd.Context(), len(tasks), sink, journal)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "begin run", err)
	}

	// First interrupt stops at the next safe point; the operation in
	// flight finishes first.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			session.RequestStop()
		}
	}()

	relayClient := relay.New(cfg.RelayURL, cfg.RelayAPIKey)
	mgr := rpc.NewManager()
	exec := engine.NewExecutor(relayClient, engine.DefaultExecOptions())
	opt := &engine.Optimizer{Prices: relayClient}
	pipe := engine.NewPipeline(relayClient, mgr, exec, opt, session, cfg.Pipeline(), rand.Intn)

	sum := pipe.Run(runCtx, tasks)
	session.Finish(sum)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wallets processed: %d/%d\n", sum.Completed, sum.Total)
	fmt.Fprintf(out, "successful: %d, failed: %d\n", sum.Successful, sum.Failed)
	if sum.Failed > 0 {
		return clierr.New(clierr.CodeExecution, fmt.Sprintf("%d wallet(s) finished with failures", sum.Failed))
	}
	return nil
}
