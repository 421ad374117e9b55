package engine

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/privatekey7/evm-farmer-pro/internal/balance"
	"github.com/privatekey7/evm-farmer-pro/internal/registry"
	"github.com/privatekey7/evm-farmer-pro/internal/relay"
	"github.com/privatekey7/evm-farmer-pro/internal/rpc"
	"github.com/privatekey7/evm-farmer-pro/internal/signer"
)

// Mode selects what the pipeline does with each wallet.
type Mode string

const (
	// ModeConsolidate unwraps, swaps residual tokens to native and
	// bridges native balances to the target chain.
	ModeConsolidate Mode = "consolidate"
	// ModeSwapOnly unwraps and swaps but never bridges.
	ModeSwapOnly Mode = "swap-only"
	// ModeStableFix swaps a percentage of native balance into a
	// stablecoin on each chain.
	ModeStableFix Mode = "stable-fix"
)

const nativeCurrency = "0x0000000000000000000000000000000000000000"

// dustThreshold is the USD value under which a holding is not worth a
// transaction.
var dustThreshold = decimal.NewFromFloat(0.01)

// OpStatus tags how a token operation ended.
type OpStatus string

const (
	OpSuccess OpStatus = "success"
	OpFailed  OpStatus = "failed"
	OpSkipped OpStatus = "skipped"
)

// OperationRecord describes one token operation for observers and the
// journal.
type OperationRecord struct {
	Wallet    common.Address
	Chain     string
	Target    string
	Operation string
	Symbol    string
	Amount    *big.Int
	Decimals  int
	USDValue  decimal.Decimal
	Status    OpStatus
	Reason    string
	TxHash    string
}

// Observer receives pipeline progress. All methods are called from
// the pipeline goroutine.
type Observer interface {
	WalletStarted(wallet common.Address, index, total int)
	ChainStarted(wallet common.Address, chain string)
	Operation(rec OperationRecord)
	// WalletExcluded reports a wallet skipped by policy; it counts as
	// completed but neither successful nor failed.
	WalletExcluded(wallet common.Address)
	WalletFinished(wallet common.Address, failed bool)
}

// RouteAPI bundles everything the pipeline needs from the routing
// service client.
type RouteAPI interface {
	Quoter
	RouteService
	PriceSource
}

// Config carries the policy knobs for one run.
type Config struct {
	Mode         Mode
	TargetChains []string
	Excluded     map[common.Address]bool
	// ExcludedChains are never processed, regardless of balances.
	ExcludedChains map[string]bool
	// IncludeEthereum gates mainnet processing; fees there dwarf the
	// balances this tool usually moves.
	IncludeEthereum bool
	// StablePercent is the share of native balance stable-fix swaps,
	// capped at 99.
	StablePercent int
	Slippage      string

	TxDelayMin     time.Duration
	TxDelayMax     time.Duration
	WalletDelayMin time.Duration
	WalletDelayMax time.Duration
}

// WalletTask pairs a signer with its scanned balances.
type WalletTask struct {
	Signer  signer.Signer
	Records []balance.RawRecord
}

// Summary totals one run.
type Summary struct {
	Completed  int
	Total      int
	Successful int
	Failed     int
}

// Pipeline walks wallets chain by chain, executing the configured
// mode's operations.
type Pipeline struct {
	Routes   RouteAPI
	RPC      *rpc.Manager
	Exec     *Executor
	Opt      *Optimizer
	Observer Observer
	Cfg      Config

	sleep   func(ctx context.Context, d time.Duration) error
	randInt func(n int) int
}

func NewPipeline(routes RouteAPI, mgr *rpc.Manager, exec *Executor, opt *Optimizer, obs Observer, cfg Config, randInt func(n int) int) *Pipeline {
	if cfg.StablePercent > 99 {
		cfg.StablePercent = 99
	}
	return &Pipeline{
		Routes:   routes,
		RPC:      mgr,
		Exec:     exec,
		Opt:      opt,
		Observer: obs,
		Cfg:      cfg,
		sleep:    sleepCtx,
		randInt:  randInt,
	}
}

// Run processes every wallet in order. Cancellation is honored
// between wallets and between operations; the in-flight operation is
// allowed to finish so no transaction is abandoned mid-confirmation.
func (p *Pipeline) Run(ctx context.Context, tasks []WalletTask) Summary {
	sum := Summary{Total: len(tasks)}
	for i, task := range tasks {
		if ctx.Err() != nil {
			return sum
		}
		addr := task.Signer.Address()
		p.Observer.WalletStarted(addr, i+1, len(tasks))

		if p.Cfg.Excluded[addr] {
			p.Observer.WalletExcluded(addr)
			sum.Completed++
			continue
		}

		failed := p.processWallet(ctx, task)
		if failed {
			sum.Failed++
		} else {
			sum.Successful++
		}
		sum.Completed++
		p.Observer.WalletFinished(addr, failed)

		if i < len(tasks)-1 {
			if err := p.randomDelay(ctx, p.Cfg.WalletDelayMin, p.Cfg.WalletDelayMax); err != nil {
				return sum
			}
		}
	}
	return sum
}

// processWallet returns true when any operation failed. Skips do not
// count as failures.
func (p *Pipeline) processWallet(ctx context.Context, task WalletTask) bool {
	snaps := balance.Classify(task.Records)
	target := p.pickTarget()

	tags := make([]string, 0, len(snaps))
	for tag := range snaps {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	anyFailed := false
	for _, tag := range tags {
		if ctx.Err() != nil {
			return anyFailed
		}
		if p.Cfg.ExcludedChains[tag] {
			continue
		}
		if tag == "eth" && !p.Cfg.IncludeEthereum {
			continue
		}
		if p.processChain(ctx, task.Signer, snaps[tag], target) {
			anyFailed = true
		}
	}
	return anyFailed
}

// pickTarget chooses the destination chain, uniformly at random when
// several are configured.
func (p *Pipeline) pickTarget() string {
	switch len(p.Cfg.TargetChains) {
	case 0:
		return ""
	case 1:
		return p.Cfg.TargetChains[0]
	default:
		return p.Cfg.TargetChains[p.randInt(len(p.Cfg.TargetChains))]
	}
}

func (p *Pipeline) processChain(ctx context.Context, sig signer.Signer, snap *balance.Snapshot, target string) bool {
	chain := snap.Chain
	p.Observer.ChainStarted(sig.Address(), chain.Tag)

	conn, err := p.RPC.Connect(ctx, chain)
	if err != nil {
		if errors.Is(err, rpc.ErrNoEndpoint) {
			p.report(sig, chain.Tag, target, "connect", chain.NativeSymbol, nil, 0, decimal.Zero, OpSkipped, "no working endpoint", "")
			return false
		}
		return false
	}
	defer conn.Close()

	if p.Cfg.Mode == ModeStableFix {
		return p.stableFix(ctx, conn, sig, snap)
	}

	anyFailed := false

	if snap.WrappedNative != nil && chain.WrappedNativeSymbol() != "" {
		if p.unwrap(ctx, conn, sig, snap, target) == OpFailed {
			anyFailed = true
		}
		p.pauseBetweenTxs(ctx)
	}

	for i := range snap.Others {
		if ctx.Err() != nil {
			return anyFailed
		}
		if p.swapToNative(ctx, conn, sig, chain, &snap.Others[i], target) == OpFailed {
			anyFailed = true
		}
		p.pauseBetweenTxs(ctx)
	}

	// The target chain only collects; bridging it onto itself makes
	// no sense.
	if p.Cfg.Mode == ModeConsolidate && target != "" && chain.Tag != target {
		if p.bridgeNative(ctx, conn, sig, snap, target) == OpFailed {
			anyFailed = true
		}
	}
	return anyFailed
}

func (p *Pipeline) unwrap(ctx context.Context, conn *rpc.Conn, sig signer.Signer, snap *balance.Snapshot, target string) OpStatus {
	chain := snap.Chain
	tok := snap.WrappedNative

	amount := p.clampToLiveBalance(ctx, conn, sig.Address(), common.HexToAddress(tok.Address), tok.Amount)
	if amount.Sign() <= 0 {
		return p.report(sig, chain.Tag, target, "unwrap", tok.Symbol, amount, tok.Decimals, decimal.Zero, OpSkipped, "balance already gone", "")
	}

	hash, err := p.Exec.Unwrap(ctx, conn, sig, chain.ID, common.HexToAddress(tok.Address), amount)
	if err != nil {
		return p.report(sig, chain.Tag, target, "unwrap", tok.Symbol, amount, tok.Decimals, tok.USDValue(), OpFailed, err.Error(), "")
	}
	return p.report(sig, chain.Tag, target, "unwrap", tok.Symbol, amount, tok.Decimals, tok.USDValue(), OpSuccess, "", hash)
}

func (p *Pipeline) swapToNative(ctx context.Context, conn *rpc.Conn, sig signer.Signer, chain *registry.Chain, tok *balance.Token, target string) OpStatus {
	if tok.Price == 0 {
		return p.report(sig, chain.Tag, target, "swap", tok.Symbol, tok.Amount, tok.Decimals, decimal.Zero, OpSkipped, "no price data", "")
	}
	usd := tok.USDValue()
	if usd.LessThan(dustThreshold) {
		return p.report(sig, chain.Tag, target, "swap", tok.Symbol, tok.Amount, tok.Decimals, usd, OpSkipped, "value below dust threshold", "")
	}

	amount := p.clampToLiveBalance(ctx, conn, sig.Address(), common.HexToAddress(tok.Address), tok.Amount)
	if amount.Sign() <= 0 {
		return p.report(sig, chain.Tag, target, "swap", tok.Symbol, amount, tok.Decimals, usd, OpSkipped, "balance already gone", "")
	}

	quote, err := p.Routes.Quote(ctx, relay.QuoteRequest{
		User:                sig.Address().Hex(),
		Recipient:           sig.Address().Hex(),
		OriginChainID:       chain.ID,
		DestinationChainID:  chain.ID,
		OriginCurrency:      tok.Address,
		DestinationCurrency: nativeCurrency,
		Amount:              amount,
		SlippageTolerance:   p.Cfg.Slippage,
	})
	if err != nil {
		return p.routeFailure(sig, chain.Tag, target, "swap", tok, amount, usd, err)
	}

	return p.runSteps(ctx, conn, sig, chain, quote, "swap", tok.Symbol, amount, tok.Decimals, usd, target)
}

func (p *Pipeline) bridgeNative(ctx context.Context, conn *rpc.Conn, sig signer.Signer, snap *balance.Snapshot, target string) OpStatus {
	chain := snap.Chain
	targetChain, ok := registry.ByTag(target)
	if !ok {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, nil, 18, decimal.Zero, OpSkipped, "unknown target chain", "")
	}

	// Swaps may have grown the native balance; size from the chain,
	// not the stale snapshot.
	live, err := conn.Client.BalanceAt(ctx, sig.Address(), nil)
	if err != nil || live.Sign() <= 0 {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, live, 18, decimal.Zero, OpSkipped, "no native balance", "")
	}

	nativePrice := 0.0
	if snap.Native != nil {
		nativePrice = snap.Native.Price
	}
	usd := nativeUSD(live, nativePrice)
	if nativePrice > 0 && usd.LessThan(dustThreshold) {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, live, 18, usd, OpSkipped, "value below dust threshold", "")
	}

	req := relay.QuoteRequest{
		User:                sig.Address().Hex(),
		Recipient:           sig.Address().Hex(),
		OriginChainID:       chain.ID,
		DestinationChainID:  targetChain.ID,
		OriginCurrency:      nativeCurrency,
		DestinationCurrency: nativeCurrency,
		Amount:              live,
		SlippageTolerance:   p.Cfg.Slippage,
	}

	quote, err := p.Routes.Quote(ctx, req)
	if err != nil {
		var routeErr *relay.RouteError
		if errors.As(err, &routeErr) && routeErr.Code == "AMOUNT_TOO_LOW" {
			// The full balance is under the route minimum; find the
			// smallest amount that routes before giving up.
			if viable, ok := MinimumViableAmount(ctx, p.Routes, req, live); ok && viable.Cmp(live) <= 0 {
				req.Amount = viable
				if quote, err = p.Routes.Quote(ctx, req); err != nil {
					return p.routeFailureNative(sig, chain, target, live, usd, err)
				}
				return p.runSteps(ctx, conn, sig, chain, quote, "bridge", chain.NativeSymbol, viable, 18, usd, target)
			}
		}
		return p.routeFailureNative(sig, chain, target, live, usd, err)
	}
	if len(quote.Steps) == 0 {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, live, 18, usd, OpSkipped, "no route found", "")
	}

	optimal, err := p.Opt.OptimalAmount(ctx, quote, live, chain.NativeSymbol, nativePrice, chain.ID)
	if err != nil {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, live, 18, usd, OpSkipped, "balance cannot cover fees", "")
	}

	req.Amount = optimal
	finalQuote, err := p.Routes.Quote(ctx, req)
	if err != nil {
		return p.routeFailureNative(sig, chain, target, optimal, usd, err)
	}
	return p.runSteps(ctx, conn, sig, chain, finalQuote, "bridge", chain.NativeSymbol, optimal, 18, usd, target)
}

// stableFix swaps a configured share of the live native balance into
// a stablecoin on the same chain.
func (p *Pipeline) stableFix(ctx context.Context, conn *rpc.Conn, sig signer.Signer, snap *balance.Snapshot) bool {
	chain := snap.Chain
	stables := registry.Stables(chain.ID)
	if len(stables) == 0 {
		p.report(sig, chain.Tag, chain.Tag, "stable-fix", chain.NativeSymbol, nil, 18, decimal.Zero, OpSkipped, "no stablecoin on chain", "")
		return false
	}
	stable := stables[0]
	if len(stables) > 1 {
		stable = stables[p.randInt(len(stables))]
	}

	live, err := conn.Client.BalanceAt(ctx, sig.Address(), nil)
	if err != nil || live.Sign() <= 0 {
		p.report(sig, chain.Tag, chain.Tag, "stable-fix", chain.NativeSymbol, live, 18, decimal.Zero, OpSkipped, "no native balance", "")
		return false
	}

	percent := p.Cfg.StablePercent
	if percent <= 0 {
		percent = 50
	}
	amount := new(big.Int).Div(new(big.Int).Mul(live, big.NewInt(int64(percent))), big.NewInt(100))
	if amount.Sign() <= 0 {
		p.report(sig, chain.Tag, chain.Tag, "stable-fix", chain.NativeSymbol, amount, 18, decimal.Zero, OpSkipped, "share rounds to zero", "")
		return false
	}

	nativePrice := 0.0
	if snap.Native != nil {
		nativePrice = snap.Native.Price
	}
	usd := nativeUSD(amount, nativePrice)

	quote, err := p.Routes.Quote(ctx, relay.QuoteRequest{
		User:                sig.Address().Hex(),
		Recipient:           sig.Address().Hex(),
		OriginChainID:       chain.ID,
		DestinationChainID:  chain.ID,
		OriginCurrency:      nativeCurrency,
		DestinationCurrency: stable.Address,
		Amount:              amount,
		SlippageTolerance:   p.Cfg.Slippage,
	})
	if err != nil {
		return p.routeFailureNative(sig, chain, chain.Tag, amount, usd, err) == OpFailed
	}
	return p.runSteps(ctx, conn, sig, chain, quote, "stable-fix", stable.Symbol, amount, 18, usd, chain.Tag) == OpFailed
}

// runSteps plans and executes a quote's steps and reports the result.
func (p *Pipeline) runSteps(ctx context.Context, conn *rpc.Conn, sig signer.Signer, chain *registry.Chain, quote *relay.Quote, op, symbol string, amount *big.Int, decimals int, usd decimal.Decimal, target string) OpStatus {
	if out := quote.OutputAmount(); out != nil && out.Sign() <= 0 {
		return p.report(sig, chain.Tag, target, op, symbol, amount, decimals, usd, OpSkipped, "route output is zero", "")
	}
	steps, err := quote.PlannedSteps()
	if err != nil {
		return p.report(sig, chain.Tag, target, op, symbol, amount, decimals, usd, OpFailed, err.Error(), "")
	}
	if len(steps) == 0 {
		return p.report(sig, chain.Tag, target, op, symbol, amount, decimals, usd, OpSkipped, "no route found", "")
	}

	results, err := p.Exec.ExecuteSteps(ctx, conn, sig, chain.ID, steps)
	if err != nil {
		return p.report(sig, chain.Tag, target, op, symbol, amount, decimals, usd, OpFailed, err.Error(), lastHash(results))
	}
	return p.report(sig, chain.Tag, target, op, symbol, amount, decimals, usd, OpSuccess, "", lastHash(results))
}

// clampToLiveBalance caps a scanned amount at the wallet's current
// on-chain token balance. The scan may be stale.
func (p *Pipeline) clampToLiveBalance(ctx context.Context, conn *rpc.Conn, owner, token common.Address, scanned *big.Int) *big.Int {
	calldata, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return scanned
	}
	raw, err := conn.Client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return scanned
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return scanned
	}
	live, ok := out[0].(*big.Int)
	if !ok {
		return scanned
	}
	if live.Cmp(scanned) < 0 {
		return live
	}
	return scanned
}

func (p *Pipeline) routeFailure(sig signer.Signer, chain, target, op string, tok *balance.Token, amount *big.Int, usd decimal.Decimal, err error) OpStatus {
	var routeErr *relay.RouteError
	if errors.As(err, &routeErr) {
		return p.report(sig, chain, target, op, tok.Symbol, amount, tok.Decimals, usd, OpSkipped, routeErr.Reason(), "")
	}
	return p.report(sig, chain, target, op, tok.Symbol, amount, tok.Decimals, usd, OpSkipped, "quote unavailable", "")
}

func (p *Pipeline) routeFailureNative(sig signer.Signer, chain *registry.Chain, target string, amount *big.Int, usd decimal.Decimal, err error) OpStatus {
	var routeErr *relay.RouteError
	if errors.As(err, &routeErr) {
		return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, amount, 18, usd, OpSkipped, routeErr.Reason(), "")
	}
	return p.report(sig, chain.Tag, target, "bridge", chain.NativeSymbol, amount, 18, usd, OpSkipped, "quote unavailable", "")
}

func (p *Pipeline) report(sig signer.Signer, chain, target, op, symbol string, amount *big.Int, decimals int, usd decimal.Decimal, status OpStatus, reason, txHash string) OpStatus {
	if amount == nil {
		amount = new(big.Int)
	}
	p.Observer.Operation(OperationRecord{
		Wallet:    sig.Address(),
		Chain:     chain,
		Target:    target,
		Operation: op,
		Symbol:    symbol,
		Amount:    amount,
		Decimals:  decimals,
		USDValue:  usd,
		Status:    status,
		Reason:    reason,
		TxHash:    txHash,
	})
	return status
}

func (p *Pipeline) pauseBetweenTxs(ctx context.Context) {
	_ = p.randomDelay(ctx, p.Cfg.TxDelayMin, p.Cfg.TxDelayMax)
}

func (p *Pipeline) randomDelay(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	d := min
	if span := max - min; span > 0 && p.randInt != nil {
		d += time.Duration(p.randInt(int(span)))
	}
	return p.sleep(ctx, d)
}

func nativeUSD(amount *big.Int, price float64) decimal.Decimal {
	if price <= 0 || amount == nil || amount.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -18).Mul(decimal.NewFromFloat(price))
}

func lastHash(results []StepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].TxHash != "" {
			return results[i].TxHash
		}
	}
	return ""
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)
