package events

import (
	"context"
	"time"

	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// Journal persists published events
type Journal interface {
	SaveTransition(ctx context.Context, t *models.FlowTransition) error
	SaveTransaction(ctx context.Context, rec *models.TransactionRecord) error
	UpsertPosition(ctx context.Context, snap *models.PositionSnapshot) error
}

// RegisterMetrics counts transitions and transaction outcomes
func RegisterMetrics(h *Hub, c *metrics.Collector) error {
	if err := h.Subscribe(TopicTransition, func(ev Transition) {
		c.RecordFlowTransition(string(ev.From), string(ev.To))
	}); err != nil {
		return err
	}
	return h.Subscribe(TopicTx, func(ev Tx) {
		c.RecordTransaction(string(ev.Record.Action), string(ev.Record.Status))
	})
}

// RegisterJournal writes every event to j. Failures are logged and never block the flow.
func RegisterJournal(h *Hub, j Journal, logger *logging.StructuredLogger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if err := h.Subscribe(TopicTransition, func(ev Transition) {
		ctx, cancel := context.WithTimeout(logging.WithSessionID(context.Background(), ev.SessionID), timeout)
		defer cancel()

		err := j.SaveTransition(ctx, &models.FlowTransition{
			SessionID: ev.SessionID,
			FromStep:  ev.From,
			ToStep:    ev.To,
			RequestID: ev.RequestID,
			TxHash:    ev.TxHash,
			Error:     ev.Error,
			CreatedAt: ev.At,
		})
		if err != nil {
			logger.Error(ctx, "[JOURNAL_TRANSITION_FAILED] Failed to persist transition", logging.Fields{
				"from": ev.From,
				"to":   ev.To,
			}, err)
		}
	}); err != nil {
		return err
	}

	if err := h.Subscribe(TopicTx, func(ev Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		rec := ev.Record
		if err := j.SaveTransaction(ctx, &rec); err != nil {
			logger.Error(ctx, "[JOURNAL_TX_FAILED] Failed to persist transaction", logging.Fields{
				"hash":   rec.Hash,
				"action": rec.Action,
			}, err)
		}
	}); err != nil {
		return err
	}

	return h.Subscribe(TopicPosition, func(ev PositionRefreshed) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		p := ev.Position
		if err := j.UpsertPosition(ctx, p.Snapshot(ev.Owner)); err != nil {
			logger.Error(ctx, "[JOURNAL_POSITION_FAILED] Failed to persist position snapshot", logging.Fields{
				"token_id": p.TokenID.String(),
			}, err)
		}
	})
}
