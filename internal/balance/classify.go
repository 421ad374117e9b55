// Package balance turns raw per-wallet token records into per-chain
// snapshots the engine can act on.
package balance

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/privatekey7/evm-farmer-pro/internal/registry"
)

// RawRecord is one token row as exported by the balance scanner.
type RawRecord struct {
	Chain           string  `json:"chain"`
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	OptimizedSymbol string  `json:"optimized_symbol"`
	Name            string  `json:"name"`
	Decimals        int     `json:"decimals"`
	Amount          float64 `json:"amount"`
	RawAmount       float64 `json:"raw_amount"`
	RawAmountStr    string  `json:"raw_amount_str"`
	Price           float64 `json:"price"`
}

// Token is a classified holding with an exact integer amount.
type Token struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
	Amount   *big.Int
	// Price is the scanner's USD price, 0 when unknown.
	Price float64
}

// USDValue estimates the dollar value of the holding. Zero when the
// scanner supplied no price.
func (t *Token) USDValue() decimal.Decimal {
	if t.Price == 0 || t.Amount == nil || t.Amount.Sign() <= 0 {
		return decimal.Zero
	}
	amt := decimal.NewFromBigInt(t.Amount, -int32(t.Decimals))
	return amt.Mul(decimal.NewFromFloat(t.Price))
}

// Snapshot groups one wallet's holdings on one chain.
type Snapshot struct {
	Chain         *registry.Chain
	Native        *Token
	WrappedNative *Token
	Others        []Token
}

// Classify buckets records per chain into native, wrapped-native and
// remaining tokens. Records on unknown chains are dropped. Duplicate
// entries for the same token keep the larger amount.
func Classify(records []RawRecord) map[string]*Snapshot {
	out := map[string]*Snapshot{}
	for _, rec := range records {
		chain, ok := registry.ByTag(rec.Chain)
		if !ok {
			continue
		}
		amount := rawAmount(rec)
		if amount.Sign() <= 0 {
			continue
		}
		snap := out[chain.Tag]
		if snap == nil {
			snap = &Snapshot{Chain: chain}
			out[chain.Tag] = snap
		}

		tok := Token{
			Address:  strings.ToLower(rec.ID),
			Symbol:   displaySymbol(rec),
			Name:     rec.Name,
			Decimals: rec.Decimals,
			Amount:   amount,
			Price:    rec.Price,
		}

		switch {
		case isNative(rec, chain):
			tok.Address = ""
			mergeInto(&snap.Native, tok)
		case isWrappedNative(rec, chain):
			mergeInto(&snap.WrappedNative, tok)
		default:
			snap.Others = mergeList(snap.Others, tok)
		}
	}
	return out
}

// displaySymbol prefers the scanner's optimized symbol.
func displaySymbol(rec RawRecord) string {
	if rec.OptimizedSymbol != "" {
		return rec.OptimizedSymbol
	}
	return rec.Symbol
}

// isNative matches records whose id is the chain tag itself, which is
// how the scanner marks native coins.
func isNative(rec RawRecord, chain *registry.Chain) bool {
	return strings.EqualFold(rec.ID, chain.Tag)
}

// isWrappedNative only matches on chains with a wrap convention; a
// wrapper on any other chain stays in Others so it is still swapped.
func isWrappedNative(rec RawRecord, chain *registry.Chain) bool {
	wrapped := chain.WrappedNativeSymbol()
	if wrapped == "" {
		return false
	}
	if strings.EqualFold(displaySymbol(rec), wrapped) {
		return true
	}
	name := strings.ToLower(rec.Name)
	if strings.Contains(name, "wrapped") && strings.Contains(name, strings.ToLower(chain.NativeSymbol)) {
		return true
	}
	return strings.Contains(name, "weth") && chain.NativeSymbol == "ETH"
}

// rawAmount recovers the exact integer amount, preferring the string
// form, then the numeric raw amount, then scaling the display amount.
func rawAmount(rec RawRecord) *big.Int {
	if s := strings.TrimSpace(rec.RawAmountStr); s != "" {
		if v, ok := new(big.Int).SetString(s, 10); ok {
			return v
		}
	}
	if rec.RawAmount > 0 {
		v, _ := new(big.Float).SetFloat64(rec.RawAmount).Int(nil)
		return v
	}
	if rec.Amount > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rec.Decimals)), nil))
		scaled := new(big.Float).Mul(big.NewFloat(rec.Amount), scale)
		v, _ := scaled.Int(nil)
		return v
	}
	return new(big.Int)
}

func mergeInto(slot **Token, tok Token) {
	if *slot == nil || (*slot).Amount.Cmp(tok.Amount) < 0 {
		*slot = &tok
	}
}

func mergeList(list []Token, tok Token) []Token {
	for i := range list {
		if list[i].Address == tok.Address {
			if list[i].Amount.Cmp(tok.Amount) < 0 {
				list[i] = tok
			}
			return list
		}
	}
	return append(list, tok)
}
