package services

import (
	"context"
	"database/sql"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"weather-options/internal/chain"
	"weather-options/internal/events"
	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// TxRequest describes a broadcast transaction to be watched
type TxRequest struct {
	Action    models.TxAction
	Hash      common.Hash
	TokenID   *big.Int
	RequestID common.Hash
	Value     *big.Int
}

// txWatcher waits for receipts in the background and publishes every outcome
// on the event hub. Services share one watcher so that Close drains all of them.
type txWatcher struct {
	client  chain.Client
	hub     *events.Hub
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTxWatcher(client chain.Client, hub *events.Hub, timeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *txWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &txWatcher{
		client:  client,
		hub:     hub,
		logger:  logger.WithFields(logging.Fields{"component": "tx_watcher"}),
		metrics: metricsCollector,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *txWatcher) record(req TxRequest, status models.TxStatus, flowErr *models.FlowError, submittedAt time.Time) models.TransactionRecord {
	rec := models.TransactionRecord{
		Hash:        req.Hash.Hex(),
		Action:      req.Action,
		Status:      status,
		SubmittedAt: submittedAt,
	}
	if req.TokenID != nil {
		rec.TokenID = req.TokenID.String()
	}
	if req.RequestID != (common.Hash{}) {
		rec.RequestID = req.RequestID.Hex()
	}
	if req.Value != nil {
		rec.Value = req.Value.String()
	}
	if flowErr != nil {
		rec.Error = flowErr.Message
	}
	if status == models.TxConfirmed || status == models.TxReverted {
		rec.ConfirmedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return rec
}

func (w *txWatcher) publish(rec models.TransactionRecord) {
	if w.hub != nil {
		w.hub.PublishTx(events.Tx{Record: rec})
		return
	}
	if w.metrics != nil {
		w.metrics.RecordTransaction(string(rec.Action), string(rec.Status))
	}
}

// submitFailed journals a transaction that never made it to the mempool
func (w *txWatcher) submitFailed(action models.TxAction, tokenID *big.Int, err *models.FlowError) {
	fields := logging.Fields{
		"action": action,
		"kind":   err.Kind,
		"error":  err.Message,
		"stage":  "SUBMISSION",
	}
	if tokenID != nil {
		fields["token_id"] = tokenID.String()
	}
	w.logger.Warn(context.Background(), "[TX_SUBMIT_FAILED] Transaction was not broadcast", fields)
	if w.metrics != nil {
		w.metrics.RecordTransaction(string(action), string(models.TxFailed))
	}
}

// Watch publishes the submission, then waits for the receipt in the
// background and calls done with nil on success or the classified error.
func (w *txWatcher) Watch(req TxRequest, done func(*models.FlowError)) {
	submittedAt := time.Now()
	w.publish(w.record(req, models.TxSubmitted, nil, submittedAt))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		flowErr := w.wait(req)
		status := models.TxConfirmed
		switch {
		case flowErr == nil:
		case flowErr.Kind == models.KindReverted:
			status = models.TxReverted
		default:
			status = models.TxFailed
		}
		w.publish(w.record(req, status, flowErr, submittedAt))

		fields := logging.Fields{
			"action": req.Action,
			"hash":   req.Hash.Hex(),
			"status": status,
			"stage":  "RECEIPT",
		}
		if flowErr != nil {
			w.logger.Warn(w.ctx, "[TX_FAILED] Transaction did not succeed", fields)
		} else {
			w.logger.Info(w.ctx, "[TX_CONFIRMED] Transaction confirmed", fields)
		}

		if done != nil {
			done(flowErr)
		}
	}()
}

func (w *txWatcher) wait(req TxRequest) *models.FlowError {
	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(w.ctx, w.timeout)
		defer cancel()
	}

	receipt, err := w.client.WaitReceipt(ctx, req.Hash)
	if err != nil {
		fe := models.NewFlowError(models.KindRead, err)
		fe.TxHash = req.Hash.Hex()
		return fe
	}
	if !chain.Succeeded(receipt) {
		return models.RevertedError(req.Hash.Hex())
	}
	return nil
}

// after runs fn once d has elapsed unless the watcher is closed first
func (w *txWatcher) after(d time.Duration, fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			fn(w.ctx)
		case <-w.ctx.Done():
		}
	}()
}

// Close abandons outstanding receipt waits and blocks until their goroutines exit
func (w *txWatcher) Close() {
	w.cancel()
	w.wg.Wait()
}

// pendingSet guards per-key in-flight actions
type pendingSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{keys: make(map[string]bool)}
}

// begin marks key pending; false if it already was
func (p *pendingSet) begin(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keys[key] {
		return false
	}
	p.keys[key] = true
	return true
}

func (p *pendingSet) end(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func (p *pendingSet) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[key]
}
