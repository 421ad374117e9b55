package app

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/privatekey7/evm-farmer-pro/internal/balance"
	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
	"github.com/privatekey7/evm-farmer-pro/internal/registry"
	"github.com/privatekey7/evm-farmer-pro/internal/relay"
)

// preview quotes all of one wallet's native balances into the target
// chain as a single multi-input route, without sending anything.
func (s *runtimeState) newPreviewCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "preview <wallet-address>",
		Short: "Quote consolidating a wallet's native balances, without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet := strings.ToLower(strings.TrimSpace(args[0]))
			dest, ok := registry.ByTag(target)
			if !ok {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown target chain %q", target))
			}

			balances, err := balance.LoadFile(s.cfg.BalancesFile)
			if err != nil {
				return clierr.Wrap(clierr.CodeConfig, "load balances", err)
			}
			records, ok := balances[wallet]
			if !ok {
				return clierr.New(clierr.CodeUsage, "wallet has no scanned balances")
			}

			req := relay.MultiInputRequest{
				User:                wallet,
				Recipient:           wallet,
				DestinationChainID:  dest.ID,
				DestinationCurrency: "0x0000000000000000000000000000000000000000",
			}
			for tag, snap := range balance.Classify(records) {
				if tag == dest.Tag || snap.Native == nil {
					continue
				}
				req.Origins = append(req.Origins, relay.MultiInputOrigin{
					ChainID:  snap.Chain.ID,
					Currency: "0x0000000000000000000000000000000000000000",
					Amount:   snap.Native.Amount,
				})
			}
			if len(req.Origins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to consolidate")
				return nil
			}

			client := relay.New(s.cfg.RelayURL, s.cfg.RelayAPIKey)
			quote, err := client.MultiInputQuote(cmd.Context(), req)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "request quote", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "route to %s: %d step(s) across %d origin chain(s)\n",
				dest.Name, len(quote.Steps), len(req.Origins))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEE\tAMOUNT\tCURRENCY\tUSD")
			printFee(w, "gas", quote.Fees.Gas)
			printFee(w, "relayer", quote.Fees.Relayer)
			printFee(w, "app", quote.Fees.App)
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&target, "target", "base", "destination chain tag")
	return cmd
}

func printFee(w *tabwriter.Writer, name string, fee *relay.FeeItem) {
	if fee == nil {
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, fee.Amount, fee.Currency.Symbol, fee.USD)
}
