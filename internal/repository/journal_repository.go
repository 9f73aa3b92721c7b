package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"weather-options/internal/models"
	"weather-options/pkg/database"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// JournalRepository persists the purchase flow history, transaction outcomes
// and position snapshots
type JournalRepository interface {
	// Flow transitions
	SaveTransition(ctx context.Context, t *models.FlowTransition) error
	ListTransitions(ctx context.Context, filter TransitionFilter) ([]*models.FlowTransition, int, error)

	// Transactions
	SaveTransaction(ctx context.Context, rec *models.TransactionRecord) error
	GetTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.TransactionRecord, int, error)
	SummarizeTransactions(ctx context.Context, since *time.Time) ([]*models.TransactionSummary, error)

	// Position snapshots
	UpsertPosition(ctx context.Context, snap *models.PositionSnapshot) error
	GetPosition(ctx context.Context, tokenID string) (*models.PositionSnapshot, error)
	ListPositions(ctx context.Context, owner string, limit, offset int) ([]*models.PositionSnapshot, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// TransitionFilter defines filters for querying flow history
type TransitionFilter struct {
	SessionID *string
	Since     *time.Time
	Limit     int
	Offset    int
}

// TransactionFilter defines filters for querying transactions
type TransactionFilter struct {
	Action  *models.TxAction
	Status  *models.TxStatus
	TokenID *string
	Limit   int
	Offset  int
}

// journalRepository implements JournalRepository
type journalRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) JournalRepository {
	return &journalRepository{
		db:      db,
		logger:  logger.WithFields(logging.Fields{"component": "journal"}),
		metrics: metricsCollector,
	}
}

// SaveTransition appends a step change
func (r *journalRepository) SaveTransition(ctx context.Context, t *models.FlowTransition) error {
	query := `
		INSERT INTO flow_transitions (session_id, from_step, to_step, request_id, tx_hash, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.GetContext(ctx, "insert_transition", &t.ID, query,
		t.SessionID,
		t.FromStep,
		t.ToStep,
		t.RequestID,
		t.TxHash,
		t.Error,
		t.CreatedAt,
	)

	if err != nil {
		r.metrics.RecordDBError("insert_transition")
		return fmt.Errorf("failed to save transition: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SAVE_TRANSITION] Transition saved", logging.Fields{
		"session_id": t.SessionID,
		"from":       t.FromStep,
		"to":         t.ToStep,
	})

	return nil
}

// ListTransitions returns flow history, newest first
func (r *journalRepository) ListTransitions(ctx context.Context, filter TransitionFilter) ([]*models.FlowTransition, int, error) {
	query := `
		SELECT id, session_id, from_step, to_step, request_id, tx_hash, error, created_at
		FROM flow_transitions
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.SessionID != nil {
		query += fmt.Sprintf(" AND session_id = $%d", argNum)
		args = append(args, *filter.SessionID)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_transitions", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count transitions: %w", err)
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var transitions []*models.FlowTransition
	if err := r.db.SelectContext(ctx, "list_transitions", &transitions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list transitions: %w", err)
	}

	return transitions, totalCount, nil
}

// SaveTransaction inserts a transaction or advances its status. A submitted
// record never overwrites a final one.
func (r *journalRepository) SaveTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	query := `
		INSERT INTO transactions (hash, action, token_id, request_id, value_wei, status, error, submitted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			confirmed_at = EXCLUDED.confirmed_at
		WHERE transactions.status = 'submitted'
	`

	_, err := r.db.ExecContext(ctx, "upsert_transaction", query,
		rec.Hash,
		rec.Action,
		rec.TokenID,
		rec.RequestID,
		rec.Value,
		rec.Status,
		rec.Error,
		rec.SubmittedAt,
		rec.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SAVE_TX] Transaction saved", logging.Fields{
		"hash":   rec.Hash,
		"action": rec.Action,
		"status": rec.Status,
	})

	return nil
}

// GetTransaction retrieves a transaction by hash
func (r *journalRepository) GetTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	query := `
		SELECT hash, action, token_id, request_id, value_wei, status, error, submitted_at, confirmed_at
		FROM transactions
		WHERE hash = $1
	`

	var rec models.TransactionRecord
	err := r.db.GetContext(ctx, "get_transaction", &rec, query, hash)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "transaction",
			ID:       hash,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &rec, nil
}

// ListTransactions retrieves transactions with filtering and pagination
func (r *journalRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.TransactionRecord, int, error) {
	query := `
		SELECT hash, action, token_id, request_id, value_wei, status, error, submitted_at, confirmed_at
		FROM transactions
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, *filter.Action)
		argNum++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.TokenID != nil {
		query += fmt.Sprintf(" AND token_id = $%d", argNum)
		args = append(args, *filter.TokenID)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_transactions", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query += " ORDER BY submitted_at DESC, hash"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var records []*models.TransactionRecord
	if err := r.db.SelectContext(ctx, "list_transactions", &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	return records, totalCount, nil
}

// SummarizeTransactions counts transactions per action and status,
// optionally restricted to those submitted at or after since
func (r *journalRepository) SummarizeTransactions(ctx context.Context, since *time.Time) ([]*models.TransactionSummary, error) {
	query := `
		SELECT action, status, COUNT(*) AS count, MAX(submitted_at) AS last_submitted_at
		FROM transactions
		WHERE 1=1
	`
	args := []interface{}{}

	if since != nil {
		query += " AND submitted_at >= $1"
		args = append(args, *since)
	}

	query += " GROUP BY action, status ORDER BY action, status"

	var rows []*models.TransactionSummary
	if err := r.db.SelectContext(ctx, "summarize_transactions", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to summarize transactions: %w", err)
	}

	return rows, nil
}

// UpsertPosition stores the latest snapshot of a position
func (r *journalRepository) UpsertPosition(ctx context.Context, snap *models.PositionSnapshot) error {
	query := `
		INSERT INTO position_snapshots (
			token_id, owner, kind, latitude, longitude, start_date, expiry_date,
			strike_mm, spread_mm, notional_wei, premium_wei,
			status, actual_rainfall, final_payout_wei, pending_payout_wei, read_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (token_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			status = EXCLUDED.status,
			actual_rainfall = EXCLUDED.actual_rainfall,
			final_payout_wei = EXCLUDED.final_payout_wei,
			pending_payout_wei = EXCLUDED.pending_payout_wei,
			read_at = EXCLUDED.read_at
		WHERE position_snapshots.read_at <= EXCLUDED.read_at
	`

	_, err := r.db.ExecContext(ctx, "upsert_position", query,
		snap.TokenID,
		snap.Owner,
		snap.Kind,
		snap.Latitude,
		snap.Longitude,
		snap.StartDate,
		snap.ExpiryDate,
		snap.StrikeMM,
		snap.SpreadMM,
		snap.NotionalWei,
		snap.PremiumWei,
		snap.Status,
		snap.ActualRainfall,
		snap.FinalPayoutWei,
		snap.PendingWei,
		snap.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// GetPosition retrieves the last stored snapshot of a position
func (r *journalRepository) GetPosition(ctx context.Context, tokenID string) (*models.PositionSnapshot, error) {
	query := `
		SELECT token_id, owner, kind, latitude, longitude, start_date, expiry_date,
		       strike_mm, spread_mm, notional_wei, premium_wei,
		       status, actual_rainfall, final_payout_wei, pending_payout_wei, read_at
		FROM position_snapshots
		WHERE token_id = $1
	`

	var snap models.PositionSnapshot
	err := r.db.GetContext(ctx, "get_position", &snap, query, tokenID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "position",
			ID:       tokenID,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return &snap, nil
}

// ListPositions retrieves the snapshots held by owner, ordered by token id
func (r *journalRepository) ListPositions(ctx context.Context, owner string, limit, offset int) ([]*models.PositionSnapshot, error) {
	query := `
		SELECT token_id, owner, kind, latitude, longitude, start_date, expiry_date,
		       strike_mm, spread_mm, notional_wei, premium_wei,
		       status, actual_rainfall, final_payout_wei, pending_payout_wei, read_at
		FROM position_snapshots
		WHERE owner = $1
		ORDER BY token_id::numeric
		LIMIT $2 OFFSET $3
	`

	var snaps []*models.PositionSnapshot
	if err := r.db.SelectContext(ctx, "list_positions", &snaps, query, owner, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	return snaps, nil
}

// HealthCheck performs a repository health check
func (r *journalRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
