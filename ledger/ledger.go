// Package ledger keeps one record per observed source-chain payment and guards
// the status state machine with conditional updates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vitwit/xrpfi/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_tx_hash TEXT NOT NULL UNIQUE,
	source_address TEXT NOT NULL,
	source_amount TEXT NOT NULL,
	instruction_type TEXT NOT NULL,
	memo TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	destination_account TEXT,
	destination_tx_hash TEXT,
	split_tx_hash TEXT,
	error_message TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_source_address ON transactions(source_address);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const selectColumns = `id, source_tx_hash, source_address, source_amount, instruction_type, memo, status,
	destination_account, destination_tx_hash, split_tx_hash, error_message, created_at, updated_at`

// allowedFrom lists, per target status, the statuses a record may move from through Update.
// failed -> pending is absent on purpose: only Retry performs it.
var allowedFrom = map[types.TransactionStatus][]types.TransactionStatus{
	types.StatusProving:            {types.StatusPending},
	types.StatusExecuting:          {types.StatusProving},
	types.StatusCompleted:          {types.StatusExecuting},
	types.StatusPartiallyCompleted: {types.StatusExecuting},
	types.StatusFailed:             {types.StatusPending, types.StatusProving, types.StatusExecuting},
}

// Ledger is the sqlite-backed transaction store.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. ":memory:" gives a private in-memory store.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	memory := path == ":memory:"
	if memory {
		dsn = "file::memory:?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if memory {
		// every new connection would see a fresh empty database
		db.SetMaxOpenConns(1)
	}

	l, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an existing database handle and ensures the schema exists.
func New(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Create inserts a pending record. A second insert for the same hash fails with
// DUPLICATE_TRANSACTION and leaves the first record untouched.
func (l *Ledger) Create(ctx context.Context, sourceTxHash, sourceAddress, sourceAmount string, kind types.InstructionType, memoHex string) (*types.Transaction, error) {
	now := l.now()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transactions (source_tx_hash, source_address, source_amount, instruction_type, memo, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sourceTxHash, sourceAddress, sourceAmount, string(kind), nullString(memoHex), string(types.StatusPending), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.WrapError(types.ErrCodeDuplicateTransaction, err, "transaction %s already recorded", sourceTxHash)
		}
		return nil, fmt.Errorf("insert transaction %s: %w", sourceTxHash, err)
	}
	return l.Get(ctx, sourceTxHash)
}

// Get returns the record for a hash or NOT_FOUND.
func (l *Ledger) Get(ctx context.Context, sourceTxHash string) (*types.Transaction, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE source_tx_hash = ?`, sourceTxHash)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrCodeNotFound, "transaction %s not found", sourceTxHash)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sourceTxHash, err)
	}
	return tx, nil
}

// Update merges the non-nil fields and bumps updated_at. A status change is applied
// only if the current status is a legal predecessor; the check and the write are a
// single statement so concurrent writers cannot interleave.
func (l *Ledger) Update(ctx context.Context, sourceTxHash string, upd types.TransactionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{l.now()}

	if upd.DestinationAccount != nil {
		sets = append(sets, "destination_account = ?")
		args = append(args, nullString(*upd.DestinationAccount))
	}
	if upd.DestinationTxHash != nil {
		sets = append(sets, "destination_tx_hash = ?")
		args = append(args, nullString(*upd.DestinationTxHash))
	}
	if upd.SplitTxHash != nil {
		sets = append(sets, "split_tx_hash = ?")
		args = append(args, nullString(*upd.SplitTxHash))
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullString(*upd.ErrorMessage))
	}

	where := "source_tx_hash = ?"
	args2 := []interface{}{sourceTxHash}

	if upd.Status != nil {
		from, ok := allowedFrom[*upd.Status]
		if !ok {
			return types.NewError(types.ErrCodeInvalidTransition, "status %q cannot be set through update", *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))

		placeholders := make([]string, len(from))
		for i, s := range from {
			placeholders[i] = "?"
			args2 = append(args2, string(s))
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query := "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE " + where
	res, err := l.db.ExecContext(ctx, query, append(args, args2...)...)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", sourceTxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", sourceTxHash, err)
	}
	if n == 1 {
		return nil
	}

	current, err := l.Get(ctx, sourceTxHash)
	if err != nil {
		return err
	}
	if upd.Status == nil {
		return types.NewError(types.ErrCodeNotFound, "transaction %s not updated", sourceTxHash)
	}
	return types.NewError(types.ErrCodeInvalidTransition, "transaction %s cannot move from %s to %s", sourceTxHash, current.Status, *upd.Status)
}

// SetStatus is a shorthand for a status-only update.
func (l *Ledger) SetStatus(ctx context.Context, sourceTxHash string, status types.TransactionStatus) error {
	return l.Update(ctx, sourceTxHash, types.TransactionUpdate{Status: &status})
}

// Fail moves a non-terminal record to failed with msg.
func (l *Ledger) Fail(ctx context.Context, sourceTxHash, msg string) error {
	status := types.StatusFailed
	return l.Update(ctx, sourceTxHash, types.TransactionUpdate{Status: &status, ErrorMessage: &msg})
}

// Retry resets a failed record to pending and clears its error.
func (l *Ledger) Retry(ctx context.Context, sourceTxHash string) (*types.Transaction, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, error_message = NULL, updated_at = ?
		WHERE source_tx_hash = ? AND status = ?
	`, string(types.StatusPending), l.now(), sourceTxHash, string(types.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("retry transaction %s: %w", sourceTxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("retry transaction %s: %w", sourceTxHash, err)
	}

	tx, err := l.Get(ctx, sourceTxHash)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, types.NewError(types.ErrCodeInvalidTransition, "transaction %s is %s, only failed transactions can be retried", sourceTxHash, tx.Status)
	}
	return tx, nil
}

// ListByAddress returns the records of a source address, newest first.
func (l *Ledger) ListByAddress(ctx context.Context, sourceAddress string) ([]*types.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM transactions
		WHERE source_address = ?
		ORDER BY created_at DESC, id DESC
	`, sourceAddress)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", sourceAddress, err)
	}
	return collect(rows)
}

// ListByStatus returns the records in any of the given statuses, oldest first.
func (l *Ledger) ListByStatus(ctx context.Context, statuses ...types.TransactionStatus) ([]*types.Transaction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM transactions
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	return collect(rows)
}

// CountByStatus reports how many records sit in each status.
func (l *Ledger) CountByStatus(ctx context.Context) (map[types.TransactionStatus]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TransactionStatus]int, len(types.AllStatuses))
	for _, s := range types.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.TransactionStatus(status)] = n
	}
	return counts, rows.Err()
}

// FailInterrupted marks records left in proving/executing by a previous process as
// failed so an operator can retry them. In-flight external calls are never resumed.
func (l *Ledger) FailInterrupted(ctx context.Context, msg string) ([]string, error) {
	stale, err := l.ListByStatus(ctx, types.StatusProving, types.StatusExecuting)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(stale))
	for _, tx := range stale {
		if err := l.Fail(ctx, tx.SourceTxHash, msg); err != nil {
			if errors.Is(err, types.ErrInvalidTransition) {
				continue
			}
			return hashes, err
		}
		hashes = append(hashes, tx.SourceTxHash)
	}
	return hashes, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*types.Transaction, error) {
	var (
		tx                                    types.Transaction
		kind, status                          string
		memo, destAcct, destHash, split, errM sql.NullString
	)
	err := s.Scan(&tx.ID, &tx.SourceTxHash, &tx.SourceAddress, &tx.SourceAmount, &kind, &memo, &status,
		&destAcct, &destHash, &split, &errM, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.InstructionType = types.InstructionType(kind)
	tx.Status = types.TransactionStatus(status)
	tx.Memo = memo.String
	tx.DestinationAccount = stringPtr(destAcct)
	tx.DestinationTxHash = stringPtr(destHash)
	tx.SplitTxHash = stringPtr(split)
	tx.ErrorMessage = stringPtr(errM)
	return &tx, nil
}

func collect(rows *sql.Rows) ([]*types.Transaction, error) {
	defer rows.Close()
	out := []*types.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
