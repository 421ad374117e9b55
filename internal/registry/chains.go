package registry

import (
	"sort"
	"strings"
)

// Chain describes one supported EVM network: the short tag used in
// balance records and config files, the numeric chain id used by the
// routing service, and the RPC endpoints used to reach it.
type Chain struct {
	Tag          string
	ID           int64
	Name         string
	NativeSymbol string
	// WrapPrefix is the symbol prefix of the chain's wrapped-native
	// token ("W" for WETH on Ethereum). Empty when the chain has no
	// conventional wrapped-native prefix.
	WrapPrefix string
	RPCURL     string
	// FallbackRPCURLs are tried once each, in order, after the
	// primary endpoint is exhausted.
	FallbackRPCURLs []string
}

var chains = []Chain{
	{
		Tag: "eth", ID: 1, Name: "Ethereum", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://eth.llamarpc.com",
		FallbackRPCURLs: []string{
			"https://rpc.ankr.com/eth",
			"https://ethereum-rpc.publicnode.com",
		},
	},
	{
		Tag: "op", ID: 10, Name: "Optimism", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://mainnet.optimism.io",
		FallbackRPCURLs: []string{
			"https://optimism-rpc.publicnode.com",
			"https://rpc.ankr.com/optimism",
		},
	},
	{
		Tag: "bsc", ID: 56, Name: "BNB Smart Chain", NativeSymbol: "BNB",
		RPCURL: "https://bsc-dataseed.binance.org",
		FallbackRPCURLs: []string{
			"https://bsc-rpc.publicnode.com",
		},
	},
	{
		Tag: "xdai", ID: 100, Name: "Gnosis Chain", NativeSymbol: "XDAI",
		RPCURL: "https://rpc.gnosischain.com",
		FallbackRPCURLs: []string{
			"https://gnosis-rpc.publicnode.com",
		},
	},
	{
		Tag: "matic", ID: 137, Name: "Polygon", NativeSymbol: "MATIC",
		RPCURL: "https://polygon-rpc.com",
		FallbackRPCURLs: []string{
			"https://polygon-bor-rpc.publicnode.com",
		},
	},
	{
		Tag: "sonic", ID: 146, Name: "Sonic", NativeSymbol: "S",
		RPCURL: "https://rpc.soniclabs.com",
	},
	{
		Tag: "era", ID: 324, Name: "zkSync Era", NativeSymbol: "ETH",
		RPCURL: "https://mainnet.era.zksync.io",
		FallbackRPCURLs: []string{
			"https://zksync.drpc.org",
		},
	},
	{
		Tag: "world", ID: 480, Name: "World Chain", NativeSymbol: "ETH",
		RPCURL: "https://worldchain-mainnet.g.alchemy.com/public",
	},
	{
		Tag: "mnt", ID: 5000, Name: "Mantle", NativeSymbol: "MNT",
		RPCURL: "https://rpc.mantle.xyz",
		FallbackRPCURLs: []string{
			"https://mantle-rpc.publicnode.com",
		},
	},
	{
		Tag: "base", ID: 8453, Name: "Base", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://mainnet.base.org",
		FallbackRPCURLs: []string{
			"https://base-rpc.publicnode.com",
			"https://rpc.ankr.com/base",
		},
	},
	{
		Tag: "mode", ID: 34443, Name: "Mode", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://mainnet.mode.network",
	},
	{
		Tag: "arb", ID: 42161, Name: "Arbitrum", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://arb1.arbitrum.io/rpc",
		FallbackRPCURLs: []string{
			"https://arbitrum-one-rpc.publicnode.com",
			"https://rpc.ankr.com/arbitrum",
		},
	},
	{
		Tag: "nova", ID: 42170, Name: "Arbitrum Nova", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://nova.arbitrum.io/rpc",
	},
	{
		Tag: "celo", ID: 42220, Name: "Celo", NativeSymbol: "CELO",
		RPCURL: "https://forno.celo.org",
	},
	{
		Tag: "avax", ID: 43114, Name: "Avalanche", NativeSymbol: "AVAX",
		RPCURL: "https://api.avax.network/ext/bc/C/rpc",
		FallbackRPCURLs: []string{
			"https://avalanche-c-chain-rpc.publicnode.com",
		},
	},
	{
		Tag: "ink", ID: 57073, Name: "Ink", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://rpc-gel.inkonchain.com",
	},
	{
		Tag: "linea", ID: 59144, Name: "Linea", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://rpc.linea.build",
		FallbackRPCURLs: []string{
			"https://linea-rpc.publicnode.com",
		},
	},
	{
		Tag: "blast", ID: 81457, Name: "Blast", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://rpc.blast.io",
		FallbackRPCURLs: []string{
			"https://blast-rpc.publicnode.com",
		},
	},
	{
		Tag: "taiko", ID: 167000, Name: "Taiko", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://rpc.mainnet.taiko.xyz",
		FallbackRPCURLs: []string{
			"https://rpc.taiko.tools",
		},
	},
	{
		Tag: "scrl", ID: 534352, Name: "Scroll", NativeSymbol: "ETH", WrapPrefix: "W",
		RPCURL: "https://rpc.scroll.io",
		FallbackRPCURLs: []string{
			"https://scroll-rpc.publicnode.com",
		},
	},
}

var (
	byTag = map[string]*Chain{}
	byID  = map[int64]*Chain{}
)

func init() {
	for i := range chains {
		c := &chains[i]
		byTag[c.Tag] = c
		byID[c.ID] = c
	}
}

// ByTag resolves a chain by its short tag ("eth", "arb", "base").
func ByTag(tag string) (*Chain, bool) {
	c, ok := byTag[strings.ToLower(strings.TrimSpace(tag))]
	return c, ok
}

// ByID resolves a chain by its numeric chain id.
func ByID(id int64) (*Chain, bool) {
	c, ok := byID[id]
	return c, ok
}

// Tags returns all supported chain tags, sorted.
func Tags() []string {
	out := make([]string, 0, len(chains))
	for i := range chains {
		out = append(out, chains[i].Tag)
	}
	sort.Strings(out)
	return out
}

// All returns the full chain catalog in declaration order.
func All() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	return out
}

// WrappedNativeSymbol returns the wrapped-native token symbol for the
// chain ("WETH"), or "" when the chain defines no wrap prefix.
func (c *Chain) WrappedNativeSymbol() string {
	if c.WrapPrefix == "" {
		return ""
	}
	return c.WrapPrefix + c.NativeSymbol
}
