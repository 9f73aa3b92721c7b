package events

import (
	"context"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

type memJournal struct {
	mu          sync.Mutex
	transitions []*models.FlowTransition
	txs         []*models.TransactionRecord
	positions   []*models.PositionSnapshot
}

func (m *memJournal) SaveTransition(ctx context.Context, t *models.FlowTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *memJournal) SaveTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, rec)
	return nil
}

func (m *memJournal) UpsertPosition(ctx context.Context, snap *models.PositionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, snap)
	return nil
}

func quietLogger() *logging.StructuredLogger {
	l := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	l.SetOutput(io.Discard)
	return l
}

func TestHub_JournalAndMetrics(t *testing.T) {
	hub := NewHub(quietLogger())
	journal := &memJournal{}
	collector := metrics.NewCollectorWith("test", prometheus.NewRegistry())

	require.NoError(t, RegisterJournal(hub, journal, quietLogger(), time.Second))
	require.NoError(t, RegisterMetrics(hub, collector))

	hub.PublishTransition(Transition{SessionID: "s1", From: models.StepForm, To: models.StepQuoteLoading, At: time.Now()})
	hub.PublishTransition(Transition{SessionID: "s1", From: models.StepQuoteLoading, To: models.StepReview, RequestID: "0x01", At: time.Now()})
	hub.PublishTx(Tx{Record: models.TransactionRecord{Hash: "0xabc", Action: models.ActionCreateOption, Status: models.TxConfirmed}})
	hub.PublishPosition(PositionRefreshed{Owner: "0xA1", Position: models.Position{TokenID: big.NewInt(7)}})
	hub.Drain()

	journal.mu.Lock()
	defer journal.mu.Unlock()

	require.Len(t, journal.transitions, 2)
	var steps []models.Step
	for _, tr := range journal.transitions {
		steps = append(steps, tr.ToStep)
	}
	assert.ElementsMatch(t, []models.Step{models.StepQuoteLoading, models.StepReview}, steps)
	require.Len(t, journal.txs, 1)
	assert.Equal(t, "0xabc", journal.txs[0].Hash)
	require.Len(t, journal.positions, 1)
	assert.Equal(t, "7", journal.positions[0].TokenID)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.FlowTransitionsTotal.WithLabelValues("form", "quote-loading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.TransactionsTotal.WithLabelValues("create_option", "confirmed")))
}
