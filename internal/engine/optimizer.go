// Package engine drives route execution: fee-aware amount sizing, the
// step state machine and the per-wallet pipeline.
package engine

import (
	"context"
	"errors"
	"math"
	"math/big"

	"github.com/privatekey7/evm-farmer-pro/internal/registry"
	"github.com/privatekey7/evm-farmer-pro/internal/relay"
)

// ErrInsufficient means the balance cannot cover the quoted fees plus
// the safety reserve, or the remainder falls under the routing floor.
var ErrInsufficient = errors.New("engine: balance too small to bridge after fees")

var (
	// conservativeRelayerFee (0.05 in 18-decimals) stands in for a
	// relayer fee whose currency could not be priced.
	conservativeRelayerFee = big.NewInt(50_000_000_000_000_000)
	// minimalBuffer (0.01) is reserved when the quote carries no
	// native-denominated fees at all.
	minimalBuffer = big.NewInt(10_000_000_000_000_000)
	// minBridgeAmount (0.00005) is the floor under which routing a
	// native balance is pointless.
	minBridgeAmount = big.NewInt(50_000_000_000_000)
	// searchFloor (0.001) is the lower bound of the minimum-amount
	// binary search.
	searchFloor = big.NewInt(1_000_000_000_000_000)
)

// feeBufferPercent pads the quoted fees against price movement
// between quoting and execution.
const feeBufferPercent = 15

// PriceSource resolves a token's USD price.
type PriceSource interface {
	TokenPrice(ctx context.Context, address string, chainID int64) (float64, error)
}

// Quoter requests routes; satisfied by the relay client.
type Quoter interface {
	Quote(ctx context.Context, req relay.QuoteRequest) (*relay.Quote, error)
}

// Optimizer sizes bridge amounts so the wallet keeps enough native
// balance to pay the quoted fees.
type Optimizer struct {
	Prices PriceSource
}

// OptimalAmount returns how much of balance to bridge given the
// quote's fee breakdown. nativeSymbol and nativePrice describe the
// chain's native asset; price 0 means unknown.
func (o *Optimizer) OptimalAmount(ctx context.Context, quote *relay.Quote, balance *big.Int, nativeSymbol string, nativePrice float64, chainID int64) (*big.Int, error) {
	fees := o.nativeFees(ctx, quote, nativeSymbol, nativePrice, chainID)

	var amount *big.Int
	if fees.Sign() > 0 {
		// Pad the quoted fees and keep the padded total on the wallet.
		buffer := new(big.Int).Div(new(big.Int).Mul(fees, big.NewInt(feeBufferPercent)), big.NewInt(100))
		reserved := new(big.Int).Add(fees, buffer)
		if balance.Cmp(reserved) <= 0 {
			return nil, ErrInsufficient
		}
		amount = new(big.Int).Sub(balance, reserved)
	} else {
		if balance.Cmp(minimalBuffer) <= 0 {
			return nil, ErrInsufficient
		}
		amount = new(big.Int).Sub(balance, minimalBuffer)
	}

	if amount.Cmp(minBridgeAmount) < 0 {
		return nil, ErrInsufficient
	}
	return amount, nil
}

// nativeFees sums the quote's fees in the native asset's base units.
// Fees in other currencies are converted through USD; a fee that
// cannot be priced at all is covered by a conservative flat reserve.
func (o *Optimizer) nativeFees(ctx context.Context, quote *relay.Quote, nativeSymbol string, nativePrice float64, chainID int64) *big.Int {
	total := new(big.Int)

	if gas := quote.Fees.Gas; gas != nil && gas.Currency.Symbol == nativeSymbol {
		total.Add(total, gas.AmountInt())
	}

	relayer := quote.Fees.Relayer
	if relayer == nil || relayer.AmountInt().Sign() == 0 {
		return total
	}
	if relayer.Currency.Symbol == nativeSymbol {
		return total.Add(total, relayer.AmountInt())
	}

	// Relayer fee is in a foreign currency; convert via USD.
	decimals := relayer.Currency.Decimals
	if decimals == 0 {
		decimals = 18
	}
	feeUnits := float64FromInt(relayer.AmountInt(), decimals)

	if registry.IsStableSymbol(relayer.Currency.Symbol) {
		if nativePrice > 0 {
			total.Add(total, nativeEquivalent(feeUnits, nativePrice))
		}
		return total
	}

	token := relayer.Currency.Address
	if token == "" {
		token = relayer.Currency.Symbol
	}
	price, err := o.lookupPrice(ctx, token, chainID)
	if err != nil || nativePrice <= 0 {
		return total.Add(total, conservativeRelayerFee)
	}
	return total.Add(total, nativeEquivalent(feeUnits*price, nativePrice))
}

func (o *Optimizer) lookupPrice(ctx context.Context, token string, chainID int64) (float64, error) {
	if o.Prices == nil {
		return 0, errors.New("engine: no price source")
	}
	return o.Prices.TokenPrice(ctx, token, chainID)
}

// MinimumViableAmount binary-searches for the smallest amount the
// service will route between wallet balance and the search floor.
// Returns false when no amount in range routes.
func MinimumViableAmount(ctx context.Context, quoter Quoter, req relay.QuoteRequest, balance *big.Int) (*big.Int, bool) {
	low := new(big.Int).Set(searchFloor)
	high := new(big.Int).Set(balance)
	var best *big.Int

	for low.Cmp(high) <= 0 {
		if ctx.Err() != nil {
			break
		}
		mid := new(big.Int).Rsh(new(big.Int).Add(low, high), 1)
		req.Amount = mid

		quote, err := quoter.Quote(ctx, req)
		if err == nil && len(quote.Steps) > 0 {
			best = mid
			high = new(big.Int).Sub(mid, big.NewInt(1))
			continue
		}
		low = new(big.Int).Add(mid, big.NewInt(1))
	}
	return best, best != nil
}

// float64FromInt converts a base-unit amount to whole units. Only
// used for USD estimates, never for on-chain amounts.
func float64FromInt(v *big.Int, decimals int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f / math.Pow10(decimals)
}

// nativeEquivalent converts a USD amount into native base units.
func nativeEquivalent(usd, nativePrice float64) *big.Int {
	v, _ := new(big.Float).Mul(
		big.NewFloat(usd/nativePrice),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
	).Int(nil)
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}
