// Package rpc dials and verifies chain RPC endpoints, falling back
// through the registry's alternate URLs when the primary misbehaves.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/privatekey7/evm-farmer-pro/internal/registry"
)

// ErrNoEndpoint means no configured endpoint for the chain answered
// with the expected chain id. Callers skip the chain on this error.
var ErrNoEndpoint = errors.New("rpc: no working endpoint for chain")

// Client is the slice of the ethclient surface the engine uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a Client against one URL.
type Dialer func(ctx context.Context, url string) (Client, error)

// EthDialer dials with go-ethereum's standard JSON-RPC client.
func EthDialer(ctx context.Context, url string) (Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Manager hands out verified connections per chain.
type Manager struct {
	dial            Dialer
	primaryAttempts int
	attemptDelay    time.Duration
	probeTimeout    time.Duration
}

// Option tweaks Manager timing, used by tests to drop the waits.
type Option func(*Manager)

func WithDialer(d Dialer) Option              { return func(m *Manager) { m.dial = d } }
func WithAttemptDelay(d time.Duration) Option { return func(m *Manager) { m.attemptDelay = d } }
func WithProbeTimeout(d time.Duration) Option { return func(m *Manager) { m.probeTimeout = d } }
func WithPrimaryAttempts(n int) Option        { return func(m *Manager) { m.primaryAttempts = n } }

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dial:            EthDialer,
		primaryAttempts: 3,
		attemptDelay:    2 * time.Second,
		probeTimeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Conn is a verified connection plus the fallback URLs not yet tried.
type Conn struct {
	Client Client
	URL    string

	mgr       *Manager
	chain     *registry.Chain
	fallbacks []string
}

// Connect returns a connection whose reported chain id matches the
// registry entry. The primary endpoint gets several attempts with a
// pause in between; each fallback is tried once. ErrNoEndpoint means
// the chain should be skipped for this run.
func (m *Manager) Connect(ctx context.Context, chain *registry.Chain) (*Conn, error) {
	for attempt := 1; attempt <= m.primaryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.attemptDelay):
			}
		}
		if cl, err := m.probe(ctx, chain, chain.RPCURL); err == nil {
			return &Conn{Client: cl, URL: chain.RPCURL, mgr: m, chain: chain, fallbacks: chain.FallbackRPCURLs}, nil
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	for i, url := range chain.FallbackRPCURLs {
		if cl, err := m.probe(ctx, chain, url); err == nil {
			return &Conn{Client: cl, URL: url, mgr: m, chain: chain, fallbacks: chain.FallbackRPCURLs[i+1:]}, nil
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w %s (%d)", ErrNoEndpoint, chain.Tag, chain.ID)
}

// Fallback switches to the next untried fallback endpoint, closing the
// current client. It returns false when no endpoint is left.
func (c *Conn) Fallback(ctx context.Context) bool {
	for len(c.fallbacks) > 0 {
		url := c.fallbacks[0]
		c.fallbacks = c.fallbacks[1:]
		cl, err := c.mgr.probe(ctx, c.chain, url)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		c.Client.Close()
		c.Client = cl
		c.URL = url
		return true
	}
	return false
}

func (c *Conn) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

// probe dials the URL and checks the endpoint reports the expected
// chain id within the probe timeout.
func (m *Manager) probe(ctx context.Context, chain *registry.Chain, url string) (Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	cl, err := m.dial(dialCtx, url)
	if err != nil {
		return nil, err
	}
	id, err := cl.ChainID(dialCtx)
	if err != nil {
		cl.Close()
		return nil, err
	}
	if id == nil || id.Int64() != chain.ID {
		cl.Close()
		return nil, fmt.Errorf("rpc: endpoint %s reports chain id %v, want %d", url, id, chain.ID)
	}
	return cl, nil
}
