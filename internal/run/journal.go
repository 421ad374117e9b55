package run

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/privatekey7/evm-farmer-pro/internal/engine"
)

// Journal is an append-only record of token operations, shared safely
// between processes through a file lock. It never stores key material.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
	// lockTimeout bounds how long Append waits for another process to
	// release the lock before giving up.
	lockTimeout time.Duration
}

// JournalEntry is one persisted operation.
type JournalEntry struct {
	ID        int64           `json:"id"`
	At        time.Time       `json:"at"`
	Wallet    string          `json:"wallet"`
	Chain     string          `json:"chain"`
	Target    string          `json:"target"`
	Operation string          `json:"operation"`
	Symbol    string          `json:"symbol"`
	Amount    string          `json:"amount"`
	USDValue  string          `json:"usdValue"`
	Status    engine.OpStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	TxHash    string          `json:"txHash,omitempty"`
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			wallet TEXT NOT NULL,
			chain TEXT NOT NULL,
			target TEXT NOT NULL,
			operation TEXT NOT NULL,
			symbol TEXT NOT NULL,
			amount TEXT NOT NULL,
			usd_value TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			tx_hash TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_operations_wallet_at ON operations(wallet, at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath), lockTimeout: 5 * time.Second}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores one operation record.
func (j *Journal) Append(rec engine.OperationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.lockTimeout)
	defer cancel()
	locked, err := j.lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	_, err = j.db.Exec(`
		INSERT INTO operations (at, wallet, chain, target, operation, symbol, amount, usd_value, status, reason, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, time.Now().UTC().Unix(), rec.Wallet.Hex(), rec.Chain, rec.Target, rec.Operation,
		rec.Symbol, rec.Amount.String(), rec.USDValue.String(), string(rec.Status), rec.Reason, rec.TxHash)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT id, at, wallet, chain, target, operation, symbol, amount, usd_value, status, reason, tx_hash
		FROM operations ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var at int64
		var status string
		if err := rows.Scan(&e.ID, &at, &e.Wallet, &e.Chain, &e.Target, &e.Operation,
			&e.Symbol, &e.Amount, &e.USDValue, &status, &e.Reason, &e.TxHash); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		e.At = time.Unix(at, 0).UTC()
		e.Status = engine.OpStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
