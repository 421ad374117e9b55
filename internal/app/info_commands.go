package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
	"github.com/privatekey7/evm-farmer-pro/internal/registry"
	"github.com/privatekey7/evm-farmer-pro/internal/run"
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tID\tNAME\tNATIVE\tWRAPPED")
			for _, c := range registry.All() {
				wrapped := c.WrappedNativeSymbol()
				if wrapped == "" {
					wrapped = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", c.Tag, c.ID, c.Name, c.NativeSymbol, wrapped)
			}
			return w.Flush()
		},
	}
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := run.OpenJournal(s.cfg.JournalPath, s.cfg.JournalLockPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "open journal", err)
			}
			defer journal.Close()

			entries, err := journal.Recent(limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "read journal", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no entries")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tWALLET\tCHAIN\tOPERATION\tAMOUNT\tSTATUS\tDETAIL")
			for _, e := range entries {
				detail := e.TxHash
				if e.Reason != "" {
					detail = e.Reason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
					e.At.Format("2006-01-02 15:04:05"), shortAddr(e.Wallet), e.Chain,
					e.Operation, e.Amount, e.Symbol, e.Status, detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + ".." + addr[len(addr)-4:]
}
