// Package run owns the lifecycle of one consolidation run: status
// snapshots, the log ring, the operation journal and cooperative
// cancellation.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/privatekey7/evm-farmer-pro/internal/engine"
)

// ErrAlreadyRunning rejects a second concurrent session.
var ErrAlreadyRunning = errors.New("run: a session is already active")

const logRingSize = 1000

type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

type Stats struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	IsRunning     bool     `json:"isRunning"`
	CurrentWallet string   `json:"currentWallet"`
	CurrentChain  string   `json:"currentChain"`
	Progress      Progress `json:"progress"`
	Stats         Stats    `json:"stats"`
}

type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Session tracks one run. It implements the pipeline's Observer.
type Session struct {
	mu      sync.Mutex
	status  Status
	logs    []LogEntry
	logHead int

	cancel  context.CancelFunc
	sink    *Sink
	journal *Journal
}

// Controller hands out sessions, one at a time.
type Controller struct {
	mu     sync.Mutex
	active *Session
}

func NewController() *Controller { return &Controller{} }

// Begin opens a session for total wallets and derives the run
// context. A second Begin while a session is live returns
// ErrAlreadyRunning.
func (c *Controller) Begin(parent context.Context, total int, sink *Sink, journal *Journal) (*Session, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.Snapshot().IsRunning {
		return nil, nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		status:  Status{IsRunning: true, Progress: Progress{Total: total}},
		cancel:  cancel,
		sink:    sink,
		journal: journal,
	}
	c.active = s
	if sink != nil {
		sink.Important("run started", zap.Int("wallets", total))
	}
	return s, ctx, nil
}

// Active returns the current session, nil when none was begun.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RequestStop asks the pipeline to stop at the next safe point. The
// operation in flight is left to finish.
func (s *Session) RequestStop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.sink != nil {
		s.sink.Important("stop requested")
	}
	s.appendLog("warn", "stop requested")
}

// Finish closes the session with the pipeline's summary.
func (s *Session) Finish(sum engine.Summary) {
	s.mu.Lock()
	s.status.IsRunning = false
	s.status.Progress.Completed = sum.Completed
	s.status.Stats = Stats{Successful: sum.Successful, Failed: sum.Failed}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.sink != nil {
		s.sink.Important("run finished",
			zap.Int("completed", sum.Completed),
			zap.Int("successful", sum.Successful),
			zap.Int("failed", sum.Failed))
	}
	s.appendLog("info", fmt.Sprintf("run finished: %d/%d wallets, %d successful, %d failed",
		sum.Completed, sum.Total, sum.Successful, sum.Failed))
}

// Snapshot returns a copy of the current status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Logs returns the retained log entries, oldest first.
func (s *Session) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, 0, len(s.logs))
	for i := 0; i < len(s.logs); i++ {
		out = append(out, s.logs[(s.logHead+i)%len(s.logs)])
	}
	return out
}

func (s *Session) appendLog(level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := LogEntry{At: time.Now(), Level: level, Message: msg}
	if len(s.logs) < logRingSize {
		s.logs = append(s.logs, entry)
		return
	}
	s.logs[s.logHead] = entry
	s.logHead = (s.logHead + 1) % logRingSize
}

// WalletStarted implements engine.Observer.
func (s *Session) WalletStarted(wallet common.Address, index, total int) {
	s.mu.Lock()
	s.status.CurrentWallet = wallet.Hex()
	s.status.CurrentChain = ""
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Important("processing wallet",
			zap.String("wallet", wallet.Hex()),
			zap.Int("index", index),
			zap.Int("total", total))
	}
	fmt.Println(infoLine(fmt.Sprintf("wallet %d/%d: %s", index, total, wallet.Hex())))
	s.appendLog("info", fmt.Sprintf("wallet %d/%d: %s", index, total, wallet.Hex()))
}

// ChainStarted implements engine.Observer.
func (s *Session) ChainStarted(wallet common.Address, chain string) {
	s.mu.Lock()
	s.status.CurrentChain = chain
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Info("processing chain", zap.String("wallet", wallet.Hex()), zap.String("chain", chain))
	}
	s.appendLog("info", "chain: "+chain)
}

// Operation implements engine.Observer: journal, log and console.
func (s *Session) Operation(rec engine.OperationRecord) {
	if s.journal != nil {
		// The journal is telemetry; a full disk must not stop a run.
		_ = s.journal.Append(rec)
	}

	amount := decimal.NewFromBigInt(rec.Amount, -int32(rec.Decimals))
	line := fmt.Sprintf("[%s] %s %s %s", rec.Chain, rec.Operation, amount.StringFixed(6), rec.Symbol)
	if rec.Target != "" && rec.Target != rec.Chain {
		line += " -> " + rec.Target
	}

	switch rec.Status {
	case engine.OpSuccess:
		if s.sink != nil {
			s.sink.Important("operation succeeded",
				zap.String("chain", rec.Chain),
				zap.String("operation", rec.Operation),
				zap.String("symbol", rec.Symbol),
				zap.String("tx", rec.TxHash))
		}
		fmt.Println(successLine(line + " ok"))
		s.appendLog("info", line+" ok")
	case engine.OpSkipped:
		if s.sink != nil {
			s.sink.Info("operation skipped",
				zap.String("chain", rec.Chain),
				zap.String("operation", rec.Operation),
				zap.String("symbol", rec.Symbol),
				zap.String("reason", rec.Reason))
		}
		fmt.Println(warnLine(line + " skipped: " + rec.Reason))
		s.appendLog("warn", line+" skipped: "+rec.Reason)
	case engine.OpFailed:
		if s.sink != nil {
			s.sink.Error("operation failed",
				zap.String("chain", rec.Chain),
				zap.String("operation", rec.Operation),
				zap.String("symbol", rec.Symbol),
				zap.String("reason", rec.Reason))
		}
		fmt.Println(failLine(line + " failed: " + rec.Reason))
		s.appendLog("error", line+" failed: "+rec.Reason)
	}
}

// WalletExcluded implements engine.Observer. Excluded wallets advance
// progress without touching the success or failure counts.
func (s *Session) WalletExcluded(wallet common.Address) {
	s.mu.Lock()
	s.status.Progress.Completed++
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Info("wallet excluded", zap.String("wallet", wallet.Hex()))
	}
	s.appendLog("info", "wallet excluded: "+wallet.Hex())
}

// WalletFinished implements engine.Observer.
func (s *Session) WalletFinished(wallet common.Address, failed bool) {
	s.mu.Lock()
	s.status.Progress.Completed++
	if failed {
		s.status.Stats.Failed++
	} else {
		s.status.Stats.Successful++
	}
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Important("wallet finished", zap.String("wallet", wallet.Hex()), zap.Bool("failed", failed))
	}
}
