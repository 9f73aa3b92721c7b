package repository

import (
	"context"
	"database/sql"
	"io"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/config"
	"weather-options/internal/models"
	"weather-options/migrations"
	"weather-options/pkg/database"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// newTestRepository connects to the database described by the DB_* variables.
// Set JOURNAL_INTEGRATION=1 to run these tests.
func newTestRepository(t *testing.T) JournalRepository {
	t.Helper()
	if os.Getenv("JOURNAL_INTEGRATION") != "1" {
		t.Skip("JOURNAL_INTEGRATION not set")
	}

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	logger := logging.NewStructuredLogger("journal-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollectorWith("test", prometheus.NewRegistry())

	db, err := database.NewPostgresDB(cfg.DatabaseClientConfig(), logger, collector)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scripts, err := migrations.Load("up")
	require.NoError(t, err)
	for _, s := range scripts {
		require.NoError(t, db.ApplyScript(context.Background(), s.Name, s.SQL))
	}

	return NewJournalRepository(db, logger, collector)
}

func TestJournal_Transitions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	session := uuid.NewString()

	steps := []models.Step{models.StepForm, models.StepQuoteLoading, models.StepReview}
	for i := 1; i < len(steps); i++ {
		tr := &models.FlowTransition{
			SessionID: session,
			FromStep:  steps[i-1],
			ToStep:    steps[i],
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.SaveTransition(ctx, tr))
		assert.NotZero(t, tr.ID)
	}

	got, total, err := repo.ListTransitions(ctx, TransitionFilter{SessionID: &session, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, models.StepReview, got[0].ToStep)
}

func TestJournal_TransactionStatusOnlyAdvances(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	hash := "0x" + uuid.NewString()

	rec := &models.TransactionRecord{
		Hash:        hash,
		Action:      models.ActionClaim,
		TokenID:     "7",
		Status:      models.TxSubmitted,
		SubmittedAt: time.Now(),
	}
	require.NoError(t, repo.SaveTransaction(ctx, rec))

	rec.Status = models.TxConfirmed
	rec.ConfirmedAt = sql.NullTime{Time: time.Now(), Valid: true}
	require.NoError(t, repo.SaveTransaction(ctx, rec))

	// a late submitted record must not regress the status
	rec.Status = models.TxSubmitted
	require.NoError(t, repo.SaveTransaction(ctx, rec))

	got, err := repo.GetTransaction(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, models.TxConfirmed, got.Status)
	assert.True(t, got.ConfirmedAt.Valid)

	_, err = repo.GetTransaction(ctx, "0xmissing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	since := rec.SubmittedAt.Add(-time.Second)
	summary, err := repo.SummarizeTransactions(ctx, &since)
	require.NoError(t, err)
	var confirmedClaims int
	for _, row := range summary {
		if row.Action == models.ActionClaim && row.Status == models.TxConfirmed {
			confirmedClaims = row.Count
		}
	}
	assert.GreaterOrEqual(t, confirmedClaims, 1)
}

func TestJournal_PositionSnapshots(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	owner := "0x" + uuid.NewString()[:8]

	pos := &models.Position{
		TokenID: big.NewInt(time.Now().UnixNano()),
		Terms: models.OptionTerms{
			Kind:       models.OptionCall,
			Latitude:   "51.51",
			Longitude:  "-0.13",
			StartDate:  1000,
			ExpiryDate: 2000,
			StrikeMM:   big.NewInt(100),
			SpreadMM:   big.NewInt(50),
			Notional:   big.NewInt(1e16),
			Premium:    big.NewInt(1e15),
		},
		State:         models.OptionState{Status: models.StatusActive},
		PendingPayout: big.NewInt(0),
		ReadAt:        time.Now(),
	}
	require.NoError(t, repo.UpsertPosition(ctx, pos.Snapshot(owner)))

	pos.State.Status = models.StatusSettled
	pos.PendingPayout = big.NewInt(42)
	pos.ReadAt = time.Now().Add(time.Second)
	require.NoError(t, repo.UpsertPosition(ctx, pos.Snapshot(owner)))

	got, err := repo.GetPosition(ctx, pos.TokenID.String())
	require.NoError(t, err)
	assert.Equal(t, "Settled", got.Status)
	assert.Equal(t, "42", got.PendingWei)

	list, err := repo.ListPositions(ctx, owner, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
