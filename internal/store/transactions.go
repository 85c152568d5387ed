package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// InsertTransaction appends a settlement log entry. Inserting the same
// tx_signature twice returns ErrDuplicateTransaction via the unique index.
func (s *Store) InsertTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, wallet_address, type, amount, token, tx_signature, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.WalletAddress, tx.Type, tx.Amount, tx.Token, tx.TxSignature, tx.Status, tx.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransactionBySignature looks up a settlement log entry by its external
// reference.
func (s *Store) GetTransactionBySignature(ctx context.Context, sig string) (*Transaction, error) {
	var tx Transaction
	err := s.db.QueryRowContext(ctx,
		`SELECT id, wallet_address, type, amount, token, tx_signature, status, created_at
		 FROM transactions WHERE tx_signature = $1`, sig,
	).Scan(&tx.ID, &tx.WalletAddress, &tx.Type, &tx.Amount, &tx.Token, &tx.TxSignature, &tx.Status, &tx.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns the most recent entries for a wallet.
func (s *Store) ListTransactions(ctx context.Context, wallet string, limit int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, wallet_address, type, amount, token, tx_signature, status, created_at
		 FROM transactions WHERE wallet_address = $1 ORDER BY created_at DESC LIMIT $2`,
		wallet, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		err := rows.Scan(&tx.ID, &tx.WalletAddress, &tx.Type, &tx.Amount, &tx.Token, &tx.TxSignature, &tx.Status, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SumTransactions returns the total amount of a wallet's entries of the
// given type.
func (s *Store) SumTransactions(ctx context.Context, wallet, txType string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE wallet_address = $1 AND type = $2`,
		wallet, txType,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}
