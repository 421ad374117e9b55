package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/privatekey7/evm-farmer-pro/internal/relay"
	"github.com/privatekey7/evm-farmer-pro/internal/rpc"
	"github.com/privatekey7/evm-farmer-pro/internal/signer"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// chainClient scripts the RPC surface the executor touches.
type chainClient struct {
	chainID    *big.Int
	receipts   []receiptPoll
	receiptIdx int
	sent       []*types.Transaction
	sendErrs   []error
	balance    *big.Int
	callResult []byte
	callErr    error
}

type receiptPoll struct {
	receipt *types.Receipt
	err     error
}

func (c *chainClient) ChainID(context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	return big.NewInt(8453), nil
}
func (c *chainClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if c.balance == nil {
		return new(big.Int), nil
	}
	return c.balance, nil
}
func (c *chainClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }
func (c *chainClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}
func (c *chainClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}
func (c *chainClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (c *chainClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.sent = append(c.sent, tx)
	return nil
}
func (c *chainClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if c.receiptIdx >= len(c.receipts) {
		return nil, errors.New("not found")
	}
	poll := c.receipts[c.receiptIdx]
	c.receiptIdx++
	return poll.receipt, poll.err
}
func (c *chainClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return c.callResult, c.callErr
}
func (c *chainClient) Close() {}

// routeService records calls to the routing side of execution.
type routeService struct {
	statuses   []relay.StatusResponse
	statusIdx  int
	notified   []string
	signatures []string
}

func (r *routeService) ExecutionStatus(context.Context, string) (*relay.StatusResponse, error) {
	if r.statusIdx >= len(r.statuses) {
		return &relay.StatusResponse{Status: "pending"}, nil
	}
	s := r.statuses[r.statusIdx]
	r.statusIdx++
	return &s, nil
}
func (r *routeService) NotifyIndexed(_ context.Context, hash string, _ int64) error {
	r.notified = append(r.notified, hash)
	return nil
}
func (r *routeService) SubmitSignature(_ context.Context, _ *relay.SignStep, sig string) error {
	r.signatures = append(r.signatures, sig)
	return nil
}

func fastOptions() ExecOptions {
	opts := DefaultExecOptions()
	opts.ReceiptWait = 0
	opts.ReceiptWaitLimited = 0
	opts.StatusWait = 0
	opts.SendBackoff = 0
	opts.UnwrapPause = 0
	return opts
}

func newTestExecutor(svc *routeService) *Executor {
	e := NewExecutor(svc, fastOptions())
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	s, err := signer.FromHex(testKey)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func successReceipt() receiptPoll {
	return receiptPoll{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
}

func txStep(id string, check string) *relay.TxStep {
	return &relay.TxStep{
		ID:             id,
		To:             "0x1111111111111111111111111111111111111111",
		Data:           []byte{0x01},
		Value:          big.NewInt(1),
		ChainID:        8453,
		CheckRequestID: check,
		Approval:       id == "approve",
	}
}

func TestExecuteApprovalStepConfirmsAndNotifies(t *testing.T) {
	client := &chainClient{receipts: []receiptPoll{
		{err: errors.New("not found")},
		successReceipt(),
	}}
	svc := &routeService{}
	e := newTestExecutor(svc)

	results, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("approve", "")})
	if err != nil {
		t.Fatalf("ExecuteSteps: %v", err)
	}
	if len(results) != 1 || results[0].FinalStatus != "completed" {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.notified) != 1 {
		t.Errorf("notified %d times, want 1", len(svc.notified))
	}
	if len(client.sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(client.sent))
	}
}

func TestExecuteRevertedTransactionFails(t *testing.T) {
	client := &chainClient{receipts: []receiptPoll{
		{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}},
	}}
	e := newTestExecutor(&routeService{})

	_, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("approve", "")})
	if err == nil || !strings.Contains(err.Error(), "reverted") {
		t.Fatalf("err = %v, want revert", err)
	}
}

func TestReceiptPollExhaustionAssumesAccepted(t *testing.T) {
	// Endpoint never shows the receipt. The transaction was accepted,
	// so the step is treated as complete.
	client := &chainClient{}
	e := newTestExecutor(&routeService{})

	results, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("approve", "")})
	if err != nil {
		t.Fatalf("ExecuteSteps: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
}

func TestSendRetriesThenFails(t *testing.T) {
	client := &chainClient{sendErrs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	e := newTestExecutor(&routeService{})

	_, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("approve", "")})
	if err == nil || !strings.Contains(err.Error(), "send transaction") {
		t.Fatalf("err = %v, want send failure after retries", err)
	}
}

func TestCrossChainStatusPolledToSuccess(t *testing.T) {
	client := &chainClient{receipts: []receiptPoll{successReceipt()}}
	svc := &routeService{statuses: []relay.StatusResponse{
		{Status: "pending"},
		{Status: "pending"},
		{Status: "success"},
	}}
	e := newTestExecutor(svc)

	results, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("swap", "req-1")})
	if err != nil {
		t.Fatalf("ExecuteSteps: %v", err)
	}
	if results[0].FinalStatus != "success" {
		t.Errorf("final status = %q", results[0].FinalStatus)
	}
}

func TestCrossChainRefundFailsStep(t *testing.T) {
	client := &chainClient{receipts: []receiptPoll{successReceipt()}}
	svc := &routeService{statuses: []relay.StatusResponse{{Status: "refund"}}}
	e := newTestExecutor(svc)

	_, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453, []relay.PlannedStep{txStep("swap", "req-1")})
	if err == nil || !strings.Contains(err.Error(), "refund") {
		t.Fatalf("err = %v, want refund failure", err)
	}
}

func TestSignatureStepSubmitsSignature(t *testing.T) {
	svc := &routeService{}
	e := newTestExecutor(svc)
	step := &relay.SignStep{
		ID:            "authorize",
		SignatureKind: "eip191",
		Message:       "0xdeadbeef",
		PostEndpoint:  "/execute/permits",
	}

	results, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: &chainClient{}}, testSigner(t), 8453, []relay.PlannedStep{step})
	if err != nil {
		t.Fatalf("ExecuteSteps: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.signatures) != 1 || !strings.HasPrefix(svc.signatures[0], "0x") || len(svc.signatures[0]) != 132 {
		t.Errorf("signature = %v", svc.signatures)
	}
}

func TestSignatureStepRejectsUnknownKind(t *testing.T) {
	e := newTestExecutor(&routeService{})
	step := &relay.SignStep{ID: "authorize", SignatureKind: "eip712", Message: "0x00"}

	_, err := e.ExecuteSteps(context.Background(), &rpc.Conn{Client: &chainClient{}}, testSigner(t), 8453, []relay.PlannedStep{step})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("err = %v, want unsupported kind", err)
	}
}

func TestUnwrapRetriesThenSucceeds(t *testing.T) {
	client := &chainClient{
		sendErrs: []error{errors.New("nonce gap"), nil},
		receipts: []receiptPoll{successReceipt()},
	}
	e := newTestExecutor(&routeService{})

	hash, err := e.Unwrap(context.Background(), &rpc.Conn{Client: client}, testSigner(t), 8453,
		common.HexToAddress("0x4200000000000000000000000000000000000006"), big.NewInt(1000))
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if hash == "" {
		t.Error("empty tx hash")
	}
	if len(client.sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(client.sent))
	}
}
