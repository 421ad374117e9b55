package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
	"github.com/privatekey7/evm-farmer-pro/internal/registry"
	"github.com/privatekey7/evm-farmer-pro/internal/relay"
	"github.com/privatekey7/evm-farmer-pro/internal/rpc"
	"github.com/privatekey7/evm-farmer-pro/internal/signer"
)

// RouteService is the slice of the relay client the executor needs.
type RouteService interface {
	ExecutionStatus(ctx context.Context, requestID string) (*relay.StatusResponse, error)
	NotifyIndexed(ctx context.Context, txHash string, chainID int64) error
	SubmitSignature(ctx context.Context, step *relay.SignStep, signature string) error
}

// ExecOptions bound the executor's polling and retry loops.
type ExecOptions struct {
	ReceiptPolls       int
	ReceiptWait        time.Duration
	ReceiptWaitLimited time.Duration
	StatusPolls        int
	StatusWait         time.Duration
	SendRetries        int
	SendBackoff        time.Duration
	UnwrapAttempts     int
	UnwrapPause        time.Duration
	UnwrapConfirmWait  time.Duration
}

func DefaultExecOptions() ExecOptions {
	return ExecOptions{
		ReceiptPolls:       15,
		ReceiptWait:        5 * time.Second,
		ReceiptWaitLimited: 10 * time.Second,
		StatusPolls:        30,
		StatusWait:         5 * time.Second,
		SendRetries:        2,
		SendBackoff:        3 * time.Second,
		UnwrapAttempts:     3,
		UnwrapPause:        3 * time.Second,
		UnwrapConfirmWait:  60 * time.Second,
	}
}

// StepResult records how one planned step ended.
type StepResult struct {
	StepID string
	TxHash string
	// FinalStatus is the cross-chain status for checked steps,
	// "completed" for local ones.
	FinalStatus string
}

// Executor runs planned route steps against one chain connection.
type Executor struct {
	Relay RouteService
	Opts  ExecOptions

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(routeSvc RouteService, opts ExecOptions) *Executor {
	return &Executor{Relay: routeSvc, Opts: opts, sleep: sleepCtx}
}

// ExecuteSteps walks the planned steps in order. The first failing
// step aborts the route.
func (e *Executor) ExecuteSteps(ctx context.Context, conn *rpc.Conn, sig signer.Signer, chainID int64, steps []relay.PlannedStep) ([]StepResult, error) {
	var results []StepResult
	for _, step := range steps {
		switch s := step.(type) {
		case *relay.TxStep:
			res, err := e.executeTx(ctx, conn, sig, chainID, s)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		case *relay.SignStep:
			res, err := e.executeSignature(ctx, sig, s)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		default:
			return results, clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown planned step %T", step))
		}
	}
	return results, nil
}

func (e *Executor) executeTx(ctx context.Context, conn *rpc.Conn, sig signer.Signer, chainID int64, step *relay.TxStep) (StepResult, error) {
	tx, err := e.buildTx(ctx, conn.Client, sig, chainID, step)
	if err != nil {
		return StepResult{}, err
	}
	signed, err := sig.SignTx(tx, big.NewInt(chainID))
	if err != nil {
		return StepResult{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}

	if err := e.send(ctx, conn.Client, signed); err != nil {
		return StepResult{}, err
	}
	hash := signed.Hash()

	status, err := e.awaitReceipt(ctx, conn, hash)
	if err != nil {
		return StepResult{}, err
	}
	if status == 0 {
		return StepResult{}, clierr.New(clierr.CodeExecution, fmt.Sprintf("transaction %s reverted", hash))
	}

	// Best effort; indexing catches up on its own either way.
	_ = e.Relay.NotifyIndexed(ctx, hash.Hex(), chainID)

	result := StepResult{StepID: step.ID, TxHash: hash.Hex(), FinalStatus: "completed"}
	if step.Approval || step.CheckRequestID == "" {
		return result, nil
	}

	final, err := e.awaitCrossChain(ctx, step.CheckRequestID)
	if err != nil {
		return StepResult{}, err
	}
	result.FinalStatus = final
	if final != "success" {
		return StepResult{}, clierr.New(clierr.CodeExecution, fmt.Sprintf("cross-chain request %s ended in %s", step.CheckRequestID, final))
	}
	return result, nil
}

func (e *Executor) buildTx(ctx context.Context, client rpc.Client, sig signer.Signer, chainID int64, step *relay.TxStep) (*types.Transaction, error) {
	from := sig.Address()
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	to := common.HexToAddress(step.To)
	tip := step.MaxPriorityFeePerGas
	if tip == nil {
		tip, err = client.SuggestGasTipCap(ctx)
		if err != nil {
			tip = big.NewInt(2_000_000_000)
		}
	}
	feeCap := step.MaxFeePerGas
	if feeCap == nil {
		if step.GasPrice != nil {
			feeCap = step.GasPrice
			tip = step.GasPrice
		} else {
			head, err := client.HeaderByNumber(ctx, nil)
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch head", err)
			}
			feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		}
	}

	gas := step.Gas
	if gas == 0 {
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From: from, To: &to, Value: step.Value, Data: step.Data,
			GasFeeCap: feeCap, GasTipCap: tip,
		})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeExecution, "estimate gas", err)
		}
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		To:        &to,
		Value:     step.Value,
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      step.Data,
	}), nil
}

// send pushes the signed transaction with bounded retries and a
// growing pause, the usual answer to flaky public endpoints.
func (e *Executor) send(ctx context.Context, client rpc.Client, tx *types.Transaction) error {
	var lastErr error
	for attempt := 0; attempt <= e.Opts.SendRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.Opts.SendBackoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
		if lastErr = client.SendTransaction(ctx, tx); lastErr == nil {
			return nil
		}
		if strings.Contains(lastErr.Error(), "already known") || strings.Contains(lastErr.Error(), "nonce too low") {
			// Already in the pool from an earlier attempt.
			return nil
		}
	}
	return clierr.Wrap(clierr.CodeExecution, "send transaction", lastErr)
}

// awaitReceipt polls for the receipt. After the first rate-limit
// style failure it tries switching the connection to a fallback
// endpoint. Exhausting the polls is treated as success: the
// transaction was accepted, the endpoint just never showed it to us.
func (e *Executor) awaitReceipt(ctx context.Context, conn *rpc.Conn, hash common.Hash) (uint64, error) {
	for attempt := 1; attempt <= e.Opts.ReceiptPolls; attempt++ {
		receipt, err := conn.Client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt.Status, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		wait := e.Opts.ReceiptWait
		if isRateLimited(err) {
			wait = e.Opts.ReceiptWaitLimited
			if attempt == 1 {
				conn.Fallback(ctx)
			}
		}
		if attempt < e.Opts.ReceiptPolls {
			if err := e.sleep(ctx, wait); err != nil {
				return 0, err
			}
		}
	}
	return 1, nil
}

// awaitCrossChain polls the routing service until the request settles
// or the attempt limit runs out.
func (e *Executor) awaitCrossChain(ctx context.Context, requestID string) (string, error) {
	last := "unknown"
	for attempt := 0; attempt < e.Opts.StatusPolls; attempt++ {
		status, err := e.Relay.ExecutionStatus(ctx, requestID)
		if err == nil {
			last = status.Status
			if status.Terminal() {
				return status.Status, nil
			}
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < e.Opts.StatusPolls-1 {
			if err := e.sleep(ctx, e.Opts.StatusWait); err != nil {
				return "", err
			}
		}
	}
	return last, clierr.New(clierr.CodeExecution, fmt.Sprintf("cross-chain request %s still %s after polling", requestID, last))
}

func (e *Executor) executeSignature(ctx context.Context, sig signer.Signer, step *relay.SignStep) (StepResult, error) {
	if step.SignatureKind != "eip191" {
		return StepResult{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("signature kind %q not supported", step.SignatureKind))
	}
	msg, err := hex.DecodeString(strings.TrimPrefix(step.Message, "0x"))
	if err != nil {
		return StepResult{}, clierr.Wrap(clierr.CodeExecution, "decode signing payload", err)
	}
	signature, err := sig.SignMessage(msg)
	if err != nil {
		return StepResult{}, clierr.Wrap(clierr.CodeSigner, "sign message", err)
	}
	if err := e.Relay.SubmitSignature(ctx, step, "0x"+hex.EncodeToString(signature)); err != nil {
		return StepResult{}, clierr.Wrap(clierr.CodeExecution, "submit signature", err)
	}
	return StepResult{StepID: step.ID, FinalStatus: "completed"}, nil
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "429", "free tier", "batch of more than", "unable to perform request"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var wrappedNativeABI = mustABI(registry.WrappedNativeABI)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Unwrap converts wrapped-native back to native by calling withdraw
// on the wrapper contract. A few attempts with a pause cover the
// transient endpoint failures these calls tend to hit.
func (e *Executor) Unwrap(ctx context.Context, conn *rpc.Conn, sig signer.Signer, chainID int64, wrapper common.Address, amount *big.Int) (string, error) {
	calldata, err := wrappedNativeABI.Pack("withdraw", amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack withdraw", err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.Opts.UnwrapAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.Opts.UnwrapPause); err != nil {
				return "", err
			}
		}

		step := &relay.TxStep{
			ID:      "unwrap",
			To:      wrapper.Hex(),
			Data:    calldata,
			Value:   new(big.Int),
			ChainID: chainID,
		}
		tx, err := e.buildTx(ctx, conn.Client, sig, chainID, step)
		if err != nil {
			lastErr = err
			continue
		}
		signed, err := sig.SignTx(tx, big.NewInt(chainID))
		if err != nil {
			return "", clierr.Wrap(clierr.CodeSigner, "sign unwrap", err)
		}
		if err := conn.Client.SendTransaction(ctx, signed); err != nil {
			lastErr = err
			continue
		}

		confirmCtx, cancel := context.WithTimeout(ctx, e.Opts.UnwrapConfirmWait)
		status, err := e.awaitReceipt(confirmCtx, conn, signed.Hash())
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if status == 0 {
			return "", clierr.New(clierr.CodeExecution, "unwrap reverted")
		}
		return signed.Hash().Hex(), nil
	}
	return "", clierr.Wrap(clierr.CodeExecution, "unwrap failed", lastErr)
}
