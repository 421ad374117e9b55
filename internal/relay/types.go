// Package relay talks to the cross-chain routing service: quotes,
// execution status, price lookups and step planning.
package relay

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// QuoteRequest asks the routing service for a route between two
// chain/currency pairs. Amount is the exact input in base units.
type QuoteRequest struct {
	User                string   `json:"user"`
	Recipient           string   `json:"recipient"`
	OriginChainID       int64    `json:"originChainId"`
	DestinationChainID  int64    `json:"destinationChainId"`
	OriginCurrency      string   `json:"originCurrency"`
	DestinationCurrency string   `json:"destinationCurrency"`
	Amount              *big.Int `json:"-"`
	SlippageTolerance   string   `json:"slippageTolerance,omitempty"`
	Source              string   `json:"source,omitempty"`
}

// MarshalJSON emits Amount as a decimal string, the wire form the
// service expects.
func (r QuoteRequest) MarshalJSON() ([]byte, error) {
	type alias QuoteRequest
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(r), amount})
}

// MultiInputOrigin is one input leg of a multi-origin quote.
type MultiInputOrigin struct {
	ChainID  int64    `json:"chainId"`
	Currency string   `json:"currency"`
	Amount   *big.Int `json:"-"`
}

func (o MultiInputOrigin) MarshalJSON() ([]byte, error) {
	type alias MultiInputOrigin
	amount := "0"
	if o.Amount != nil {
		amount = o.Amount.String()
	}
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(o), amount})
}

// MultiInputRequest quotes several origin balances into one
// destination currency.
type MultiInputRequest struct {
	User                string             `json:"user"`
	Recipient           string             `json:"recipient"`
	Origins             []MultiInputOrigin `json:"origins"`
	DestinationChainID  int64              `json:"destinationChainId"`
	DestinationCurrency string             `json:"destinationCurrency"`
	Source              string             `json:"source,omitempty"`
}

// Quote is the service's route: ordered steps plus the fee breakdown.
type Quote struct {
	Steps   []Step          `json:"steps"`
	Fees    Fees            `json:"fees"`
	Details json.RawMessage `json:"details"`
}

// Step is one stage of the route. Kind is "transaction" or "signature".
type Step struct {
	ID     string     `json:"id"`
	Action string     `json:"action"`
	Kind   string     `json:"kind"`
	Items  []StepItem `json:"items"`
}

type StepItem struct {
	Data  json.RawMessage `json:"data"`
	Check *CheckHint      `json:"check"`
}

// CheckHint points at the status endpoint for a cross-chain step.
type CheckHint struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

// RequestID extracts the requestId query parameter from the check
// endpoint, empty when absent.
func (c *CheckHint) RequestID() string {
	if c == nil {
		return ""
	}
	_, after, found := strings.Cut(c.Endpoint, "requestId=")
	if !found {
		return ""
	}
	if i := strings.IndexByte(after, '&'); i >= 0 {
		after = after[:i]
	}
	return after
}

// Fees is the quoted fee breakdown. Amounts are base-unit strings in
// the listed currency.
type Fees struct {
	Gas     *FeeItem `json:"gas"`
	Relayer *FeeItem `json:"relayer"`
	App     *FeeItem `json:"app"`
}

type FeeItem struct {
	Currency FeeCurrency `json:"currency"`
	Amount   string      `json:"amount"`
	USD      string      `json:"amountUsd"`
}

type FeeCurrency struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// AmountInt parses the base-unit amount, zero on absence or garbage.
func (f *FeeItem) AmountInt() *big.Int {
	if f == nil || f.Amount == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(f.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Validate rejects responses missing the fields every usable quote
// carries.
func (q *Quote) Validate() error {
	if q.Steps == nil {
		return fmt.Errorf("relay: quote has no steps array")
	}
	if q.Fees.Gas == nil && q.Fees.Relayer == nil && q.Fees.App == nil {
		return fmt.Errorf("relay: quote has no fee breakdown")
	}
	if len(q.Details) == 0 {
		return fmt.Errorf("relay: quote has no details")
	}
	return nil
}

// OutputAmount parses the projected destination amount from the quote
// details. Nil when the service supplied no output figure.
func (q *Quote) OutputAmount() *big.Int {
	var details struct {
		CurrencyOut struct {
			Amount string `json:"amount"`
		} `json:"currencyOut"`
	}
	if err := json.Unmarshal(q.Details, &details); err != nil || details.CurrencyOut.Amount == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(details.CurrencyOut.Amount, 10)
	if !ok {
		return nil
	}
	return v
}

// PlannedStep is one validated, executable unit of a route.
type PlannedStep interface {
	StepID() string
}

// TxStep is a transaction the wallet must send. Gas fields are only
// set when the service quoted them.
type TxStep struct {
	ID                   string
	Action               string
	To                   string
	Data                 []byte
	Value                *big.Int
	ChainID              int64
	Gas                  uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
	// CheckRequestID, when non-empty, identifies the cross-chain
	// request to poll after the transaction confirms.
	CheckRequestID string
	// Approval marks token-allowance steps, which complete on receipt
	// without status polling.
	Approval bool
}

func (s *TxStep) StepID() string { return s.ID }

// SignStep is an off-chain signature the wallet must produce and post
// back to the service.
type SignStep struct {
	ID            string
	SignatureKind string
	Message       string
	PostEndpoint  string
	PostBody      map[string]any
}

func (s *SignStep) StepID() string { return s.ID }

// wire shapes for step item data
type txStepData struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Data                 string `json:"data"`
	Value                string `json:"value"`
	ChainID              int64  `json:"chainId"`
	Gas                  string `json:"gas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	GasPrice             string `json:"gasPrice"`
}

type signStepData struct {
	Sign struct {
		SignatureKind string `json:"signatureKind"`
		Message       string `json:"message"`
	} `json:"sign"`
	Post struct {
		Endpoint string         `json:"endpoint"`
		Method   string         `json:"method"`
		Body     map[string]any `json:"body"`
	} `json:"post"`
}
