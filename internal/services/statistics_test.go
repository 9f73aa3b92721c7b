package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/models"
	"weather-options/internal/repository"
)

// summaryRepo serves canned summary rows; other methods are not used
type summaryRepo struct {
	repository.JournalRepository
	rows  []*models.TransactionSummary
	err   error
	since *time.Time
}

func (r *summaryRepo) SummarizeTransactions(ctx context.Context, since *time.Time) ([]*models.TransactionSummary, error) {
	r.since = since
	return r.rows, r.err
}

func TestStatistics_Activity(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &summaryRepo{rows: []*models.TransactionSummary{
		{Action: models.ActionClaim, Status: models.TxConfirmed, Count: 3, LastSubmittedAt: t0},
		{Action: models.ActionClaim, Status: models.TxReverted, Count: 1, LastSubmittedAt: t0.Add(time.Hour)},
		{Action: models.ActionCreateOption, Status: models.TxSubmitted, Count: 2, LastSubmittedAt: t0},
		{Action: models.ActionCreateOption, Status: "unknown", Count: 9, LastSubmittedAt: t0},
	}}
	svc := NewStatisticsService(repo, testLogger(), testMetrics())

	since := t0.Add(-24 * time.Hour)
	stats, err := svc.Activity(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, &since, repo.since)
	assert.Equal(t, 6, stats.Total)
	require.Len(t, stats.Actions, 2)

	claim := stats.Actions[0]
	assert.Equal(t, models.ActionClaim, claim.Action)
	assert.Equal(t, 3, claim.Confirmed)
	assert.Equal(t, 1, claim.Reverted)
	require.NotNil(t, claim.SuccessRate)
	assert.InDelta(t, 0.75, *claim.SuccessRate, 1e-9)
	assert.Equal(t, t0.Add(time.Hour), claim.LastSubmittedAt)

	create := stats.Actions[1]
	assert.Equal(t, models.ActionCreateOption, create.Action)
	assert.Equal(t, 2, create.Submitted)
	assert.Nil(t, create.SuccessRate)
}

func TestStatistics_ActivityError(t *testing.T) {
	svc := NewStatisticsService(&summaryRepo{err: errors.New("connection reset")}, testLogger(), testMetrics())

	_, err := svc.Activity(context.Background(), nil)
	assert.ErrorContains(t, err, "failed to summarize journal")
}
