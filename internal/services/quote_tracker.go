package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"weather-options/internal/chain"
	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// TrackerPhase is the quote tracker's progress through a single request
type TrackerPhase string

const (
	PhaseIdle       TrackerPhase = "idle"
	PhaseSimulating TrackerPhase = "simulating"
	PhaseSubmitted  TrackerPhase = "submitted"
	PhaseIdentified TrackerPhase = "identified"
	PhaseFulfilled  TrackerPhase = "fulfilled"
	PhaseFailed     TrackerPhase = "failed"
)

// TrackerListener receives the tracker's signals. Calls happen on the owner goroutine.
type TrackerListener interface {
	QuotePending()
	QuoteSimulated(ok bool)
	QuoteTxHash(hash common.Hash)
	QuoteFailed(err *models.FlowError)
	QuoteFulfilled(requestID common.Hash, premium *big.Int)
}

// TrackerConfig holds the tracker timings
type TrackerConfig struct {
	TimeBuffer     time.Duration
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// QuoteTracker drives one oracle premium request at a time: simulate, submit,
// extract the request id, then poll until the oracle reports a premium.
//
// A tracker is owned by a single goroutine. Background work never touches
// tracker fields directly; it hands results to post, which must run the
// closure on the owner goroutine. Results from a superseded request are
// recognised by their generation and dropped.
type QuoteTracker struct {
	client   chain.Client
	cfg      TrackerConfig
	post     func(func())
	listener TrackerListener
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	base context.Context
	wg   sync.WaitGroup

	gen         uint64
	phase       TrackerPhase
	requestID   common.Hash
	txHash      common.Hash
	premium     *big.Int
	err         *models.FlowError
	simulated   *bool
	submittedAt time.Time
	cancel      context.CancelFunc
	pollCancel  context.CancelFunc
}

// NewQuoteTracker creates a tracker whose background work stops when base is cancelled
func NewQuoteTracker(base context.Context, client chain.Client, cfg TrackerConfig, post func(func()), listener TrackerListener, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QuoteTracker {
	return &QuoteTracker{
		client:   client,
		cfg:      cfg,
		post:     post,
		listener: listener,
		logger:   logger.WithFields(logging.Fields{"component": "quote_tracker"}),
		metrics:  metricsCollector,
		base:     base,
		phase:    PhaseIdle,
	}
}

func (t *QuoteTracker) Phase() TrackerPhase { return t.phase }

func (t *QuoteTracker) RequestID() common.Hash { return t.requestID }

func (t *QuoteTracker) TxHash() common.Hash { return t.txHash }

func (t *QuoteTracker) Err() *models.FlowError { return t.err }

// Premium is nil until the oracle has fulfilled the request
func (t *QuoteTracker) Premium() *big.Int {
	if t.premium == nil {
		return nil
	}
	return new(big.Int).Set(t.premium)
}

// SimulationResult reports the last dry-run outcome, if one completed
func (t *QuoteTracker) SimulationResult() (ok bool, known bool) {
	if t.simulated == nil {
		return false, false
	}
	return *t.simulated, true
}

// Busy reports whether a request is between submission and fulfillment
func (t *QuoteTracker) Busy() bool {
	switch t.phase {
	case PhaseSimulating, PhaseSubmitted, PhaseIdentified:
		return true
	default:
		return false
	}
}

// Request starts a new quote request for form, discarding any previous one.
// It returns immediately; progress is reported through the listener.
func (t *QuoteTracker) Request(form models.FormParameters) error {
	if t.client == nil {
		return models.NewFlowError(models.KindPrecondition, models.ErrNotConnected)
	}
	if _, ok := t.client.Account(); !ok {
		return models.NewFlowError(models.KindPrecondition, models.ErrNotConnected)
	}

	t.Reset()
	t.phase = PhaseSimulating
	t.submittedAt = time.Now()
	gen := t.gen

	ctx, cancel := context.WithCancel(t.base)
	t.cancel = cancel

	t.listener.QuotePending()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, gen, form)
	}()
	return nil
}

func (t *QuoteTracker) run(ctx context.Context, gen uint64, form models.FormParameters) {
	blockTime, err := t.client.LatestBlockTime(ctx)
	if err != nil {
		t.fail(ctx, gen, models.NewFlowError(models.KindRead, err))
		return
	}

	params, err := form.QuoteParams(blockTime, t.cfg.TimeBuffer)
	if err != nil {
		t.fail(ctx, gen, models.AsFlowError(err, models.KindValidation))
		return
	}

	if err := t.client.SimulateRequestPremiumQuote(ctx, params); err != nil {
		t.deliver(gen, func() {
			ok := false
			t.simulated = &ok
			t.listener.QuoteSimulated(false)
		})
		t.fail(ctx, gen, models.AsFlowError(err, models.KindSimulation))
		return
	}
	t.deliver(gen, func() {
		ok := true
		t.simulated = &ok
		t.listener.QuoteSimulated(true)
	})

	hash, err := t.client.RequestPremiumQuote(ctx, params)
	if err != nil {
		t.fail(ctx, gen, models.AsFlowError(err, models.KindSubmission))
		return
	}
	t.deliver(gen, func() {
		t.phase = PhaseSubmitted
		t.txHash = hash
		t.listener.QuoteTxHash(hash)
	})

	t.logger.Info(ctx, "[QUOTE_SUBMITTED] Premium quote requested", logging.Fields{
		"hash":       hash.Hex(),
		"latitude":   params.Latitude,
		"longitude":  params.Longitude,
		"expiry":     params.ExpiryDate,
		"stage":      "SUBMISSION",
		"generation": gen,
	})

	waitCtx := ctx
	if t.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.cfg.ReceiptTimeout)
		defer cancel()
	}
	receipt, err := t.client.WaitReceipt(waitCtx, hash)
	if err != nil {
		fe := models.NewFlowError(models.KindRead, err)
		fe.TxHash = hash.Hex()
		t.fail(ctx, gen, fe)
		return
	}
	if !chain.Succeeded(receipt) {
		t.fail(ctx, gen, models.RevertedError(hash.Hex()))
		return
	}

	id, err := chain.ExtractRequestID(receipt.Logs, t.client.Addresses().PremiumConsumer)
	if err != nil {
		fe := models.AsFlowError(err, models.KindRequestIDNotFound)
		fe.TxHash = hash.Hex()
		t.fail(ctx, gen, fe)
		return
	}

	t.deliver(gen, func() {
		t.phase = PhaseIdentified
		t.requestID = id
		t.startPolling(gen, id)
	})
}

// deliver runs fn on the owner goroutine if gen is still current
func (t *QuoteTracker) deliver(gen uint64, fn func()) {
	t.post(func() {
		if gen != t.gen {
			return
		}
		fn()
	})
}

// fail reports fe unless the request was abandoned, either by Reset
// (which cancels ctx) or by shutdown
func (t *QuoteTracker) fail(ctx context.Context, gen uint64, fe *models.FlowError) {
	if ctx.Err() != nil {
		return
	}
	t.logger.Warn(context.Background(), "[QUOTE_FAILED] Premium quote request failed", logging.Fields{
		"kind":       fe.Kind,
		"error":      fe.Message,
		"tx_hash":    fe.TxHash,
		"stage":      "QUOTE",
		"generation": gen,
	})
	t.deliver(gen, func() {
		t.phase = PhaseFailed
		t.err = fe
		t.listener.QuoteFailed(fe)
	})
}

func (t *QuoteTracker) startPolling(gen uint64, id common.Hash) {
	ctx, cancel := context.WithCancel(t.base)
	t.pollCancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.poll(ctx, gen, id)
	}()
}

func (t *QuoteTracker) poll(ctx context.Context, gen uint64, id common.Hash) {
	interval := t.cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if t.metrics != nil {
			t.metrics.QuotePollsTotal.Inc()
		}

		fulfilled, err := t.client.IsRequestFulfilled(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug(ctx, "[QUOTE_POLL_ERROR] Fulfillment check failed", logging.Fields{
				"request_id": id.Hex(),
				"error":      err.Error(),
			})
		case fulfilled:
			premium, err := t.client.PremiumByRequest(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Debug(ctx, "[QUOTE_POLL_ERROR] Premium read failed", logging.Fields{
					"request_id": id.Hex(),
					"error":      err.Error(),
				})
				break
			}
			t.deliver(gen, func() {
				if t.requestID != id {
					return
				}
				t.premium = premium
				t.phase = PhaseFulfilled
				t.stopPolling()
				if t.metrics != nil {
					t.metrics.QuoteFulfillment.Observe(time.Since(t.submittedAt).Seconds())
				}
				t.listener.QuoteFulfilled(id, new(big.Int).Set(premium))
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *QuoteTracker) stopPolling() {
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
}

// Reset clears all request state and abandons in-flight work
func (t *QuoteTracker) Reset() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.stopPolling()

	t.phase = PhaseIdle
	t.requestID = common.Hash{}
	t.txHash = common.Hash{}
	t.premium = nil
	t.err = nil
	t.simulated = nil
}

// Wait blocks until background goroutines have exited. Call after the base
// context is cancelled.
func (t *QuoteTracker) Wait() {
	t.wg.Wait()
}
