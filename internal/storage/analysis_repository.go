package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/models"
)

const uniqueViolationCode = "23505"

// AnalysisRepository persists wallet analyses and their transaction rows.
// Analyses are keyed by wallet address, one row per address; transaction rows
// are keyed by (hash, wallet_address) and updated in place on re-analysis.
type AnalysisRepository struct {
	db *PostgresDB
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *PostgresDB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// FindByAddress retrieves an analysis with its transactions in ledger order.
// Returns nil without error when the address has never been analyzed.
func (r *AnalysisRepository) FindByAddress(ctx context.Context, address string) (*models.WalletAnalysis, error) {
	address = strings.ToLower(address)

	query := `
		SELECT id, wallet_address, currency, total_incoming, total_outgoing,
		       total_fees, net_balance, total_transactions, last_updated,
		       created_at, updated_at
		FROM wallet_analyses
		WHERE wallet_address = $1
	`

	var analysis models.WalletAnalysis
	err := r.db.Pool().QueryRow(ctx, query, address).Scan(
		&analysis.ID,
		&analysis.WalletAddress,
		&analysis.Currency,
		&analysis.TotalIncoming,
		&analysis.TotalOutgoing,
		&analysis.TotalFees,
		&analysis.NetBalance,
		&analysis.TotalTransactions,
		&analysis.LastUpdated,
		&analysis.CreatedAt,
		&analysis.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("find analysis", fmt.Errorf("failed to query analysis: %w", err))
	}

	transactions, err := r.findTransactions(ctx, address)
	if err != nil {
		return nil, err
	}
	analysis.Transactions = transactions

	return &analysis, nil
}

// findTransactions loads all transaction rows for an address ordered by
// their position in the merged ledger.
func (r *AnalysisRepository) findTransactions(ctx context.Context, address string) ([]*models.WalletTransaction, error) {
	query := `
		SELECT id, hash, wallet_address, kind, block_number, seq,
		       from_address, to_address, value, fee, net_value, unit_price,
		       fiat_value, balance_before, balance_after, timestamp,
		       is_incoming, created_at, updated_at
		FROM wallet_transactions
		WHERE wallet_address = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, address)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find transactions", fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var transactions []*models.WalletTransaction
	for rows.Next() {
		var tx models.WalletTransaction
		err := rows.Scan(
			&tx.ID,
			&tx.Hash,
			&tx.WalletAddress,
			&tx.Kind,
			&tx.BlockNumber,
			&tx.Seq,
			&tx.FromAddress,
			&tx.ToAddress,
			&tx.Value,
			&tx.Fee,
			&tx.NetValue,
			&tx.UnitPrice,
			&tx.FiatValue,
			&tx.BalanceBefore,
			&tx.BalanceAfter,
			&tx.Timestamp,
			&tx.IsIncoming,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan transaction", fmt.Errorf("failed to scan transaction: %w", err))
		}
		transactions = append(transactions, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("read transactions", fmt.Errorf("failed to read transactions: %w", err))
	}

	return transactions, nil
}

// Upsert stores an analysis and its transaction rows atomically. Re-running
// the same address overwrites the summary row and updates matching
// transaction rows in place, so repeated analyses converge to one row per
// address and one row per (hash, wallet_address).
func (r *AnalysisRepository) Upsert(ctx context.Context, analysis *models.WalletAnalysis) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin upsert", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	now := time.Now().UTC()

	analysisQuery := `
		INSERT INTO wallet_analyses (
			id, wallet_address, currency, total_incoming, total_outgoing,
			total_fees, net_balance, total_transactions, last_updated,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (wallet_address) DO UPDATE SET
			currency = EXCLUDED.currency,
			total_incoming = EXCLUDED.total_incoming,
			total_outgoing = EXCLUDED.total_outgoing,
			total_fees = EXCLUDED.total_fees,
			net_balance = EXCLUDED.net_balance,
			total_transactions = EXCLUDED.total_transactions,
			last_updated = EXCLUDED.last_updated,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	// On conflict the stored id wins; scan it back so the caller's view of
	// the analysis matches the persisted identity across re-analyses.
	err = tx.QueryRow(ctx, analysisQuery,
		analysis.ID,
		strings.ToLower(analysis.WalletAddress),
		analysis.Currency,
		analysis.TotalIncoming,
		analysis.TotalOutgoing,
		analysis.TotalFees,
		analysis.NetBalance,
		analysis.TotalTransactions,
		analysis.LastUpdated,
		now,
	).Scan(&analysis.ID)
	if err != nil {
		return r.upsertError("upsert analysis", err)
	}

	// One statement per row: the same hash can legitimately appear once per
	// kind for the same wallet, and a single multi-row INSERT cannot touch
	// the same (hash, wallet_address) target twice.
	txQuery := `
		INSERT INTO wallet_transactions (
			id, hash, wallet_address, kind, block_number, seq,
			from_address, to_address, value, fee, net_value, unit_price,
			fiat_value, balance_before, balance_after, timestamp,
			is_incoming, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (hash, wallet_address, kind) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			seq = EXCLUDED.seq,
			from_address = EXCLUDED.from_address,
			to_address = EXCLUDED.to_address,
			value = EXCLUDED.value,
			fee = EXCLUDED.fee,
			net_value = EXCLUDED.net_value,
			unit_price = EXCLUDED.unit_price,
			fiat_value = EXCLUDED.fiat_value,
			balance_before = EXCLUDED.balance_before,
			balance_after = EXCLUDED.balance_after,
			timestamp = EXCLUDED.timestamp,
			is_incoming = EXCLUDED.is_incoming,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	batch := &pgx.Batch{}
	for _, row := range analysis.Transactions {
		batch.Queue(txQuery,
			row.ID,
			row.Hash,
			strings.ToLower(row.WalletAddress),
			row.Kind,
			row.BlockNumber,
			row.Seq,
			row.FromAddress,
			row.ToAddress,
			row.Value,
			row.Fee,
			row.NetValue,
			row.UnitPrice,
			row.FiatValue,
			row.BalanceBefore,
			row.BalanceAfter,
			row.Timestamp,
			row.IsIncoming,
			now,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, row := range analysis.Transactions {
		if err := results.QueryRow().Scan(&row.ID); err != nil {
			_ = results.Close() // nolint:errcheck
			return r.upsertError("upsert transactions", err)
		}
	}
	if err := results.Close(); err != nil {
		return r.upsertError("upsert transactions", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit upsert", fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// upsertError maps unexpected unique violations to the conflict category.
// The upsert targets every unique constraint it can legitimately hit, so a
// duplicate-key error here means the match-by-key step is broken.
func (r *AnalysisRepository) upsertError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return apperrors.NewPersistenceConflictError(operation, err)
	}
	return apperrors.NewDatabaseError(operation, err)
}

// Delete removes an analysis and its transaction rows.
func (r *AnalysisRepository) Delete(ctx context.Context, address string) error {
	address = strings.ToLower(address)

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin delete", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_transactions WHERE wallet_address = $1`, address); err != nil {
		return apperrors.NewDatabaseError("delete transactions", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM wallet_analyses WHERE wallet_address = $1`, address); err != nil {
		return apperrors.NewDatabaseError("delete analysis", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit delete", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
