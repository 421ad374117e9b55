package relay

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// PlannedSteps validates the quote's steps into executable typed
// steps. Steps with no items are dropped, matching how the service
// marks already-satisfied stages (an existing allowance, for one).
func (q *Quote) PlannedSteps() ([]PlannedStep, error) {
	var out []PlannedStep
	for _, step := range q.Steps {
		if len(step.Items) == 0 {
			continue
		}
		for _, item := range step.Items {
			planned, err := planItem(step, item)
			if err != nil {
				return nil, err
			}
			out = append(out, planned)
		}
	}
	return out, nil
}

func planItem(step Step, item StepItem) (PlannedStep, error) {
	switch step.Kind {
	case "transaction":
		var data txStepData
		if err := json.Unmarshal(item.Data, &data); err != nil {
			return nil, fmt.Errorf("relay: decode transaction step %s: %w", step.ID, err)
		}
		if data.To == "" || data.Data == "" {
			return nil, fmt.Errorf("relay: transaction step %s missing to/data", step.ID)
		}
		calldata, err := decodeHex(data.Data)
		if err != nil {
			return nil, fmt.Errorf("relay: transaction step %s calldata: %w", step.ID, err)
		}
		tx := &TxStep{
			ID:                   step.ID,
			Action:               step.Action,
			To:                   data.To,
			Data:                 calldata,
			Value:                parseWireInt(data.Value),
			ChainID:              data.ChainID,
			MaxFeePerGas:         parseWireIntOrNil(data.MaxFeePerGas),
			MaxPriorityFeePerGas: parseWireIntOrNil(data.MaxPriorityFeePerGas),
			CheckRequestID:       item.Check.RequestID(),
			Approval:             step.ID == "approve",
		}
		if data.MaxFeePerGas == "" {
			tx.GasPrice = parseWireIntOrNil(data.GasPrice)
		}
		if g := parseWireIntOrNil(data.Gas); g != nil {
			tx.Gas = g.Uint64()
		}
		return tx, nil

	case "signature":
		var data signStepData
		if err := json.Unmarshal(item.Data, &data); err != nil {
			return nil, fmt.Errorf("relay: decode signature step %s: %w", step.ID, err)
		}
		if data.Sign.Message == "" {
			return nil, fmt.Errorf("relay: signature step %s has no message", step.ID)
		}
		return &SignStep{
			ID:            step.ID,
			SignatureKind: data.Sign.SignatureKind,
			Message:       data.Sign.Message,
			PostEndpoint:  data.Post.Endpoint,
			PostBody:      data.Post.Body,
		}, nil

	default:
		return nil, fmt.Errorf("relay: unknown step kind %q (step %s)", step.Kind, step.ID)
	}
}

// parseWireInt accepts decimal or 0x-hex strings, returning zero for
// empty input.
func parseWireInt(s string) *big.Int {
	v := parseWireIntOrNil(s)
	if v == nil {
		return new(big.Int)
	}
	return v
}

func parseWireIntOrNil(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil
	}
	return v
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
