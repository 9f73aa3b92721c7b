package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"weather-options/internal/models"
	"weather-options/internal/repository"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// ActionStats are the journaled outcomes of one transaction action
type ActionStats struct {
	Action          models.TxAction `json:"action"`
	Submitted       int             `json:"submitted"`
	Confirmed       int             `json:"confirmed"`
	Reverted        int             `json:"reverted"`
	Failed          int             `json:"failed"`
	SuccessRate     *float64        `json:"success_rate"`
	LastSubmittedAt time.Time       `json:"last_submitted_at"`
}

// ActivityStats summarizes the transaction journal
type ActivityStats struct {
	Actions     []*ActionStats `json:"actions"`
	Total       int            `json:"total"`
	Since       *time.Time     `json:"since,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// StatisticsService aggregates journaled activity
type StatisticsService struct {
	repo    repository.JournalRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.JournalRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		repo:    repo,
		logger:  logger.WithFields(logging.Fields{"component": "statistics"}),
		metrics: metricsCollector,
	}
}

// Activity counts outcomes per action. The success rate only considers
// transactions that reached a final status; it is nil while none has.
func (s *StatisticsService) Activity(ctx context.Context, since *time.Time) (*ActivityStats, error) {
	startTime := time.Now()

	rows, err := s.repo.SummarizeTransactions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize journal: %w", err)
	}

	byAction := make(map[models.TxAction]*ActionStats)
	stats := &ActivityStats{Since: since, GeneratedAt: time.Now().UTC()}

	for _, row := range rows {
		a, ok := byAction[row.Action]
		if !ok {
			a = &ActionStats{Action: row.Action}
			byAction[row.Action] = a
		}

		switch row.Status {
		case models.TxSubmitted:
			a.Submitted += row.Count
		case models.TxConfirmed:
			a.Confirmed += row.Count
		case models.TxReverted:
			a.Reverted += row.Count
		case models.TxFailed:
			a.Failed += row.Count
		default:
			s.logger.Warn(ctx, "[STATS_UNKNOWN_STATUS] Skipping unknown transaction status", logging.Fields{
				"action": row.Action,
				"status": row.Status,
			})
			continue
		}

		if row.LastSubmittedAt.After(a.LastSubmittedAt) {
			a.LastSubmittedAt = row.LastSubmittedAt
		}
		stats.Total += row.Count
	}

	for _, a := range byAction {
		if final := a.Confirmed + a.Reverted + a.Failed; final > 0 {
			rate := float64(a.Confirmed) / float64(final)
			a.SuccessRate = &rate
		}
		stats.Actions = append(stats.Actions, a)
	}
	sort.Slice(stats.Actions, func(i, j int) bool {
		return stats.Actions[i].Action < stats.Actions[j].Action
	})

	s.logger.Debug(ctx, "[STATS_ACTIVITY] Journal activity summarized", logging.Fields{
		"actions":          len(stats.Actions),
		"total":            stats.Total,
		"duration_seconds": time.Since(startTime).Seconds(),
	})

	return stats, nil
}
