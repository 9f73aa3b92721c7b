// Package events fans out flow transitions, transaction outcomes and
// position refreshes to asynchronous subscribers (journal, metrics).
package events

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"

	"weather-options/internal/models"
	"weather-options/pkg/logging"
)

// Topic names
const (
	TopicTransition = "flow.transition"
	TopicTx         = "tx.outcome"
	TopicPosition   = "position.refreshed"
)

// Transition is published for every step change of a purchase session
type Transition struct {
	SessionID string
	From      models.Step
	To        models.Step
	RequestID string
	TxHash    string
	Error     string
	At        time.Time
}

// Tx is published when a transaction is submitted and again when its outcome is known
type Tx struct {
	Record models.TransactionRecord
}

// PositionRefreshed is published after a position has been re-read from the chain
type PositionRefreshed struct {
	Owner    string
	Position models.Position
}

// Hub wraps an EventBus instance
type Hub struct {
	bus    EventBus.Bus
	logger *logging.StructuredLogger
}

// NewHub creates a hub with its own bus
func NewHub(logger *logging.StructuredLogger) *Hub {
	return &Hub{
		bus:    EventBus.New(),
		logger: logger.WithFields(logging.Fields{"component": "events"}),
	}
}

// Subscribe registers fn on topic. Handlers run asynchronously and serially per handler.
func (h *Hub) Subscribe(topic string, fn interface{}) error {
	if err := h.bus.SubscribeAsync(topic, fn, true); err != nil {
		return err
	}
	h.logger.Debug(context.Background(), "[EVENTS_SUBSCRIBED] Handler registered", logging.Fields{
		"topic": topic,
	})
	return nil
}

func (h *Hub) PublishTransition(ev Transition) {
	h.bus.Publish(TopicTransition, ev)
}

func (h *Hub) PublishTx(ev Tx) {
	h.bus.Publish(TopicTx, ev)
}

func (h *Hub) PublishPosition(ev PositionRefreshed) {
	h.bus.Publish(TopicPosition, ev)
}

// Drain blocks until all asynchronous handlers have returned
func (h *Hub) Drain() {
	h.bus.WaitAsync()
}
