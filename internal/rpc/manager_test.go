package rpc

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/privatekey7/evm-farmer-pro/internal/registry"
)

type fakeClient struct {
	chainID *big.Int
	idErr   error
	closed  bool
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) { return f.chainID, f.idErr }
func (f *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeClient) SendTransaction(context.Context, *types.Transaction) error {
	return errors.New("not implemented")
}
func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) Close() { f.closed = true }

func testChain() *registry.Chain {
	return &registry.Chain{
		Tag: "test", ID: 42, Name: "Test", NativeSymbol: "ETH",
		RPCURL:          "primary",
		FallbackRPCURLs: []string{"fb1", "fb2"},
	}
}

func newTestManager(dial Dialer) *Manager {
	return NewManager(WithDialer(dial), WithAttemptDelay(0), WithProbeTimeout(time.Second))
}

func TestConnectPrimaryFirstTry(t *testing.T) {
	calls := map[string]int{}
	mgr := newTestManager(func(_ context.Context, url string) (Client, error) {
		calls[url]++
		return &fakeClient{chainID: big.NewInt(42)}, nil
	})

	conn, err := mgr.Connect(context.Background(), testChain())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if conn.URL != "primary" || calls["primary"] != 1 {
		t.Fatalf("got url %q after %v calls", conn.URL, calls)
	}
}

func TestConnectRetriesPrimaryThenFallsBack(t *testing.T) {
	calls := map[string]int{}
	mgr := newTestManager(func(_ context.Context, url string) (Client, error) {
		calls[url]++
		if url == "primary" {
			return nil, errors.New("connection refused")
		}
		return &fakeClient{chainID: big.NewInt(42)}, nil
	})

	conn, err := mgr.Connect(context.Background(), testChain())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if calls["primary"] != 3 {
		t.Errorf("primary dialed %d times, want 3", calls["primary"])
	}
	if conn.URL != "fb1" {
		t.Errorf("connected to %q, want fb1", conn.URL)
	}
}

func TestConnectRejectsWrongChainID(t *testing.T) {
	mgr := newTestManager(func(_ context.Context, url string) (Client, error) {
		if url == "primary" {
			return &fakeClient{chainID: big.NewInt(1)}, nil
		}
		return &fakeClient{chainID: big.NewInt(42)}, nil
	})

	conn, err := mgr.Connect(context.Background(), testChain())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if conn.URL != "fb1" {
		t.Errorf("connected to %q, want fb1", conn.URL)
	}
}

func TestConnectAllEndpointsDownIsSkippable(t *testing.T) {
	calls := map[string]int{}
	mgr := newTestManager(func(_ context.Context, url string) (Client, error) {
		calls[url]++
		return nil, errors.New("down")
	})

	_, err := mgr.Connect(context.Background(), testChain())
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("err = %v, want ErrNoEndpoint", err)
	}
	if calls["primary"] != 3 || calls["fb1"] != 1 || calls["fb2"] != 1 {
		t.Errorf("dial counts %v, want primary 3 and each fallback once", calls)
	}
}

func TestFallbackSwitchesAndClosesOld(t *testing.T) {
	first := &fakeClient{chainID: big.NewInt(42)}
	mgr := newTestManager(func(_ context.Context, url string) (Client, error) {
		if url == "primary" {
			return first, nil
		}
		if url == "fb1" {
			return nil, errors.New("down")
		}
		return &fakeClient{chainID: big.NewInt(42)}, nil
	})

	conn, err := mgr.Connect(context.Background(), testChain())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !conn.Fallback(context.Background()) {
		t.Fatal("Fallback returned false with fb2 available")
	}
	if conn.URL != "fb2" {
		t.Errorf("switched to %q, want fb2", conn.URL)
	}
	if !first.closed {
		t.Error("previous client left open after fallback")
	}
	if conn.Fallback(context.Background()) {
		t.Error("Fallback succeeded with no endpoints left")
	}
}
