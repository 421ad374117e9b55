package balance

import (
	"math/big"
	"testing"
)

func TestClassifyBucketsNativeWrappedAndOthers(t *testing.T) {
	records := []RawRecord{
		{Chain: "eth", ID: "eth", Symbol: "ETH", Decimals: 18, RawAmountStr: "1000000000000000000", Price: 3000},
		{Chain: "eth", ID: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18, RawAmountStr: "500000000000000000"},
		{Chain: "eth", ID: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6, RawAmountStr: "25000000", Price: 1},
	}

	snaps := Classify(records)
	snap := snaps["eth"]
	if snap == nil {
		t.Fatal("no snapshot for eth")
	}
	if snap.Native == nil || snap.Native.Amount.String() != "1000000000000000000" {
		t.Errorf("native = %+v", snap.Native)
	}
	if snap.WrappedNative == nil || snap.WrappedNative.Symbol != "WETH" {
		t.Errorf("wrapped = %+v", snap.WrappedNative)
	}
	if len(snap.Others) != 1 || snap.Others[0].Symbol != "USDT" {
		t.Errorf("others = %+v", snap.Others)
	}
}

func TestClassifyWrappedByNameOnly(t *testing.T) {
	// The symbol does not match the conventional prefix but the name
	// still identifies a wrapped-native token.
	records := []RawRecord{
		{Chain: "base", ID: "0x4200000000000000000000000000000000000006", Symbol: "wETH", Name: "Wrapped Ether", Decimals: 18, RawAmountStr: "1"},
	}
	snap := Classify(records)["base"]
	if snap == nil || snap.WrappedNative == nil {
		t.Fatalf("wrapped-native not detected: %+v", snap)
	}
}

func TestClassifyWrapperOnNoPrefixChainStaysSwappable(t *testing.T) {
	// bsc has no wrap convention, so WBNB must land in Others where the
	// pipeline can still swap it; the same goes for WETH bridged onto a
	// chain without a prefix.
	records := []RawRecord{
		{Chain: "bsc", ID: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", Symbol: "WBNB", Name: "Wrapped BNB", Decimals: 18, RawAmountStr: "1000000000000000000"},
		{Chain: "era", ID: "0x5aea5775959fbc2557cc8789bc1bf90a239d9a91", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18, RawAmountStr: "1"},
	}
	snaps := Classify(records)
	for _, tag := range []string{"bsc", "era"} {
		snap := snaps[tag]
		if snap == nil {
			t.Fatalf("no snapshot for %s", tag)
		}
		if snap.WrappedNative != nil {
			t.Errorf("%s: wrapper misclassified as wrapped-native: %+v", tag, snap.WrappedNative)
		}
		if len(snap.Others) != 1 {
			t.Errorf("%s: others = %+v, want the wrapper", tag, snap.Others)
		}
	}
}

func TestClassifySkipsUnknownChainsAndZeroAmounts(t *testing.T) {
	records := []RawRecord{
		{Chain: "notachain", ID: "eth", Symbol: "ETH", Decimals: 18, RawAmountStr: "1"},
		{Chain: "eth", ID: "eth", Symbol: "ETH", Decimals: 18, RawAmountStr: "0"},
	}
	if snaps := Classify(records); len(snaps) != 0 {
		t.Fatalf("got %d snapshots, want 0", len(snaps))
	}
}

func TestClassifyDuplicateKeepsLargerAmount(t *testing.T) {
	addr := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	records := []RawRecord{
		{Chain: "eth", ID: addr, Symbol: "USDC", Decimals: 6, RawAmountStr: "100"},
		{Chain: "eth", ID: addr, Symbol: "USDC", Decimals: 6, RawAmountStr: "900"},
		{Chain: "eth", ID: addr, Symbol: "USDC", Decimals: 6, RawAmountStr: "400"},
	}
	snap := Classify(records)["eth"]
	if len(snap.Others) != 1 {
		t.Fatalf("others = %+v, want single merged entry", snap.Others)
	}
	if snap.Others[0].Amount.String() != "900" {
		t.Errorf("merged amount = %s, want 900", snap.Others[0].Amount)
	}
}

func TestRawAmountPreference(t *testing.T) {
	cases := []struct {
		name string
		rec  RawRecord
		want string
	}{
		{"string wins", RawRecord{RawAmountStr: "123", RawAmount: 456, Amount: 7, Decimals: 2}, "123"},
		{"numeric next", RawRecord{RawAmount: 456, Amount: 7, Decimals: 2}, "456"},
		{"scaled display last", RawRecord{Amount: 7, Decimals: 2}, "700"},
		{"garbage string falls through", RawRecord{RawAmountStr: "xx", RawAmount: 456}, "456"},
	}
	for _, tc := range cases {
		if got := rawAmount(tc.rec).String(); got != tc.want {
			t.Errorf("%s: rawAmount = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestUSDValue(t *testing.T) {
	tok := Token{Decimals: 18, Amount: big.NewInt(500000000000000000), Price: 2.0}
	if got := tok.USDValue().String(); got != "1" {
		t.Errorf("USDValue = %s, want 1", got)
	}
	noPrice := Token{Decimals: 18, Amount: big.NewInt(1), Price: 0}
	if !noPrice.USDValue().IsZero() {
		t.Error("USDValue without price should be zero")
	}
}
