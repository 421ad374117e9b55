package registry

import "strings"

// StableToken is a canonical stablecoin deployment on one chain.
type StableToken struct {
	Symbol  string
	Address string
}

// stablesByChainID lists the stablecoins the stable-fix mode can swap
// into, keyed by chain id.
var stablesByChainID = map[int64][]StableToken{
	1: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7"},
	},
	10: {
		{Symbol: "USDC", Address: "0x0b2c639c533813f4aa9d7837caf62653d097ff85"},
		{Symbol: "USDT", Address: "0x94b008aa00579c1307b0ef2c499ad98a8ce58e58"},
	},
	42161: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831"},
		{Symbol: "USDT", Address: "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9"},
	},
	8453: {
		{Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
	},
	59144: {
		{Symbol: "USDC", Address: "0x176211869ca2b568f2a7d4ee941e073a821ee1ff"},
		{Symbol: "USDT", Address: "0xa219439258ca9da29e9cc4ce5596924745e12b93"},
	},
	534352: {
		{Symbol: "USDC", Address: "0x06efdbff2a14a7c8e15944d1f4a48f9f95f663a4"},
		{Symbol: "USDT", Address: "0xf55bec9cafdbe8730f096aa55dad6d22d44099df"},
	},
}

// Stables returns the stablecoins known on the chain, in preference order.
func Stables(chainID int64) []StableToken {
	return stablesByChainID[chainID]
}

// stableSymbols match by substring so variants like USDC.e and axlUSDT
// are still priced as dollar assets.
var stableSymbols = []string{"USDC", "USDT", "DAI", "BUSD", "TUSD", "USD"}

// IsStableSymbol reports whether the token symbol looks like a
// dollar-pegged stablecoin.
func IsStableSymbol(symbol string) bool {
	up := strings.ToUpper(symbol)
	for _, s := range stableSymbols {
		if strings.Contains(up, s) {
			return true
		}
	}
	return false
}
