package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/privatekey7/evm-farmer-pro/internal/relay"
)

type fakePrices struct {
	price float64
	err   error
	calls int
}

func (f *fakePrices) TokenPrice(context.Context, string, int64) (float64, error) {
	f.calls++
	return f.price, f.err
}

func feeQuote(gas, relayer *relay.FeeItem) *relay.Quote {
	return &relay.Quote{
		Steps:   []relay.Step{{ID: "swap", Kind: "transaction"}},
		Fees:    relay.Fees{Gas: gas, Relayer: relayer},
		Details: []byte(`{}`),
	}
}

func eth(amount string) *relay.FeeItem {
	return &relay.FeeItem{Currency: relay.FeeCurrency{Symbol: "ETH", Decimals: 18}, Amount: amount}
}

func TestOptimalAmountReservesFeesPlusBuffer(t *testing.T) {
	opt := &Optimizer{}
	balance := big.NewInt(1_000_000_000_000_000_000) // 1.0
	quote := feeQuote(eth("10000000000000000"), nil)  // 0.01 fee

	got, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 3000, 1)
	if err != nil {
		t.Fatalf("OptimalAmount: %v", err)
	}
	// 1.0 - 0.01*1.15 = 0.9885
	if got.String() != "988500000000000000" {
		t.Errorf("amount = %s, want 988500000000000000", got)
	}
}

func TestOptimalAmountInsufficientForReserve(t *testing.T) {
	opt := &Optimizer{}
	balance := big.NewInt(10_000_000_000_000_000) // 0.01
	quote := feeQuote(eth("10000000000000000"), nil)

	if _, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 3000, 1); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
}

func TestOptimalAmountMinimalBufferWhenNoNativeFees(t *testing.T) {
	opt := &Optimizer{}
	balance := big.NewInt(20_000_000_000_000_000) // 0.02
	quote := feeQuote(nil, nil)

	got, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 3000, 1)
	if err != nil {
		t.Fatalf("OptimalAmount: %v", err)
	}
	if got.String() != "10000000000000000" {
		t.Errorf("amount = %s, want 0.01 in wei", got)
	}
}

func TestOptimalAmountUnderRoutingFloor(t *testing.T) {
	opt := &Optimizer{}
	// Just over the minimal buffer so the remainder lands below the
	// routing floor.
	balance := big.NewInt(10_010_000_000_000_000)
	quote := feeQuote(nil, nil)

	if _, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 3000, 1); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
}

func TestOptimalAmountConvertsStableRelayerFee(t *testing.T) {
	opt := &Optimizer{}
	balance := big.NewInt(1_000_000_000_000_000_000)
	relayer := &relay.FeeItem{Currency: relay.FeeCurrency{Symbol: "USDC", Decimals: 6}, Amount: "5000000"} // $5
	quote := feeQuote(nil, relayer)

	got, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 2000, 1)
	if err != nil {
		t.Fatalf("OptimalAmount: %v", err)
	}
	// $5 at $2000 = 0.0025 native; reserve 0.0025*1.15 = 0.002875
	if got.String() != "997125000000000000" {
		t.Errorf("amount = %s, want 997125000000000000", got)
	}
}

func TestOptimalAmountConservativeWhenUnpriceable(t *testing.T) {
	prices := &fakePrices{err: errors.New("no price")}
	opt := &Optimizer{Prices: prices}
	balance := big.NewInt(1_000_000_000_000_000_000)
	relayer := &relay.FeeItem{Currency: relay.FeeCurrency{Symbol: "OBSCURE", Decimals: 18}, Amount: "1000"}
	quote := feeQuote(nil, relayer)

	got, err := opt.OptimalAmount(context.Background(), quote, balance, "ETH", 2000, 1)
	if err != nil {
		t.Fatalf("OptimalAmount: %v", err)
	}
	if prices.calls != 1 {
		t.Errorf("price lookups = %d, want 1", prices.calls)
	}
	// conservative 0.05 reserve, padded: 1.0 - 0.05*1.15 = 0.9425
	if got.String() != "942500000000000000" {
		t.Errorf("amount = %s, want 942500000000000000", got)
	}
}

type thresholdQuoter struct {
	min   *big.Int
	calls int
}

func (q *thresholdQuoter) Quote(_ context.Context, req relay.QuoteRequest) (*relay.Quote, error) {
	q.calls++
	if req.Amount.Cmp(q.min) < 0 {
		return nil, &relay.RouteError{Code: "AMOUNT_TOO_LOW"}
	}
	return feeQuote(eth("1"), nil), nil
}

func TestMinimumViableAmountFindsThreshold(t *testing.T) {
	min := big.NewInt(4_200_000_000_000_000)
	q := &thresholdQuoter{min: min}
	balance := big.NewInt(100_000_000_000_000_000)

	got, ok := MinimumViableAmount(context.Background(), q, relay.QuoteRequest{}, balance)
	if !ok {
		t.Fatal("no viable amount found")
	}
	if got.Cmp(min) != 0 {
		t.Errorf("viable = %s, want %s", got, min)
	}
}

func TestMinimumViableAmountNothingRoutes(t *testing.T) {
	q := &thresholdQuoter{min: big.NewInt(0).Add(big.NewInt(1_000_000_000_000_000_000), big.NewInt(1))}
	if _, ok := MinimumViableAmount(context.Background(), q, relay.QuoteRequest{}, big.NewInt(2_000_000_000_000_000)); ok {
		t.Fatal("found viable amount above balance")
	}
}
