package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"weather-options/internal/chain"
	"weather-options/internal/config"
	"weather-options/internal/events"
	"weather-options/internal/flow"
	"weather-options/internal/models"
	"weather-options/internal/pricing"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// ErrServiceClosed is returned by calls made after Close
var ErrServiceClosed = errors.New("service closed")

// ProtocolParams are the protocol-wide values read from the contracts.
// A nil field has not been read successfully yet.
type ProtocolParams struct {
	AvailableLiquidity *big.Int  `json:"available_liquidity"`
	MinNotional        *big.Int  `json:"min_notional"`
	MinPremium         *big.Int  `json:"min_premium"`
	ProtocolFeeBps     *big.Int  `json:"protocol_fee_bps"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FlowView is a consistent snapshot of the purchase flow
type FlowView struct {
	SessionID           string                `json:"session_id"`
	Step                models.Step           `json:"step"`
	RequestID           string                `json:"request_id,omitempty"`
	TxHash              string                `json:"tx_hash,omitempty"`
	Error               *models.FlowError     `json:"error,omitempty"`
	SimulationSucceeded bool                  `json:"simulation_succeeded"`
	CreateStatus        string                `json:"create_status"`
	Form                models.FormParameters `json:"form"`
	Premium             *big.Int              `json:"premium,omitempty"`
	Params              ProtocolParams        `json:"params"`
	Figures             pricing.Figures       `json:"figures"`
	CanRequestQuote     bool                  `json:"can_request_quote"`
	CanConfirm          bool                  `json:"can_confirm"`
	Connected           bool                  `json:"connected"`
	Account             string                `json:"account,omitempty"`
	TrackerPhase        TrackerPhase          `json:"tracker_phase"`
}

// OptionFlowService hosts the purchase state machine. One goroutine owns the
// state, the form, the quote tracker, the protocol parameters and the reset
// timer; every public method runs as a closure on that goroutine.
type OptionFlowService struct {
	client  chain.Client
	hub     *events.Hub
	cfg     config.FlowConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	txs     *txWatcher

	mailbox   chan func()
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// owned by the actor goroutine
	session    string
	state      flow.State
	form       models.FormParameters
	tracker    *QuoteTracker
	params     ProtocolParams
	resetTimer *time.Timer
	resetGen   uint64
	createGen  uint64
}

// NewOptionFlowService starts the flow actor and the protocol parameter refresher
func NewOptionFlowService(client chain.Client, hub *events.Hub, cfg config.FlowConfig, receiptTimeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OptionFlowService {
	ctx, cancel := context.WithCancel(context.Background())

	s := &OptionFlowService{
		client:  client,
		hub:     hub,
		cfg:     cfg,
		logger:  logger.WithFields(logging.Fields{"component": "option_flow"}),
		metrics: metricsCollector,
		txs:     newTxWatcher(client, hub, receiptTimeout, logger, metricsCollector),
		mailbox: make(chan func(), 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		session: uuid.NewString(),
		state:   flow.Initial(),
		form:    models.DefaultFormParameters(),
	}
	s.tracker = NewQuoteTracker(ctx, client, TrackerConfig{
		TimeBuffer:     cfg.QuoteTimeBuffer,
		PollInterval:   cfg.PollInterval,
		ReceiptTimeout: receiptTimeout,
	}, s.post, trackerSignals{s}, logger, metricsCollector)

	s.wg.Add(1)
	go s.loop()

	s.wg.Add(1)
	go s.refreshLoop()

	s.logger.Info(ctx, "[FLOW_STARTED] Option flow service started", logging.Fields{
		"session_id":    s.session,
		"poll_interval": cfg.PollInterval.String(),
		"stage":         "INITIALIZATION",
	})

	return s
}

func (s *OptionFlowService) loop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// post enqueues fn without waiting. Used by background work only.
func (s *OptionFlowService) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

type actorReply[T any] struct {
	value T
	err   error
}

// ask runs fn on the actor goroutine and returns its result. The reply
// channel is buffered, so the closure completes even after the caller has
// stopped waiting.
func ask[T any](ctx context.Context, s *OptionFlowService, fn func() (T, error)) (T, error) {
	var zero T
	finished := make(chan actorReply[T], 1)

	select {
	case s.mailbox <- func() {
		v, err := fn()
		finished <- actorReply[T]{v, err}
	}:
	case <-s.done:
		return zero, ErrServiceClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-finished:
		return r.value, r.err
	case <-s.done:
		return zero, ErrServiceClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// do runs fn on the actor goroutine and waits for its error
func (s *OptionFlowService) do(ctx context.Context, fn func() error) error {
	_, err := ask(ctx, s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *OptionFlowService) refreshLoop() {
	defer s.wg.Done()

	if err := s.RefreshParams(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Warn(s.ctx, "[FLOW_PARAMS_PARTIAL] Initial protocol parameter read incomplete", logging.Fields{
			"error": err.Error(),
		})
	}

	if s.cfg.ParamsRefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ParamsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshParams(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Debug(s.ctx, "[FLOW_PARAMS_PARTIAL] Protocol parameter refresh incomplete", logging.Fields{
					"error": err.Error(),
				})
			}
		}
	}
}

// RefreshParams re-reads liquidity, minimums and the protocol fee. Values
// that fail to read keep their previous value.
func (s *OptionFlowService) RefreshParams(ctx context.Context) error {
	var firstErr error
	read := func(name string, fn func(context.Context) (*big.Int, error)) *big.Int {
		v, err := fn(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to read %s: %w", name, err)
			}
			return nil
		}
		return v
	}

	liquidity := read("availableLiquidity", s.client.AvailableLiquidity)
	minNotional := read("minNotional", s.client.MinNotional)
	minPremium := read("minPremium", s.client.MinPremium)
	feeBps := read("protocolFeeBps", s.client.ProtocolFeeBps)

	err := s.do(ctx, func() error {
		if liquidity != nil {
			s.params.AvailableLiquidity = liquidity
		}
		if minNotional != nil {
			s.params.MinNotional = minNotional
		}
		if minPremium != nil {
			s.params.MinPremium = minPremium
		}
		if feeBps != nil {
			s.params.ProtocolFeeBps = feeBps
		}
		s.params.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	return firstErr
}

// Snapshot returns the current flow view with figures derived now
func (s *OptionFlowService) Snapshot(ctx context.Context) (FlowView, error) {
	return ask(ctx, s, func() (FlowView, error) { return s.view(), nil })
}

func (s *OptionFlowService) view() FlowView {
	fig := s.figures()
	account, connected := s.client.Account()

	v := FlowView{
		SessionID:           s.session,
		Step:                s.state.Step,
		Error:               s.state.Error,
		SimulationSucceeded: s.state.SimulationSucceeded,
		CreateStatus:        s.state.CreateStatus.String(),
		Form:                s.form,
		Premium:             s.tracker.Premium(),
		Params:              s.params,
		Figures:             fig,
		CanRequestQuote:     flow.CanRequestQuote(s.state, s.tracker.Busy(), fig),
		CanConfirm:          flow.CanConfirm(s.state, fig),
		Connected:           connected,
		TrackerPhase:        s.tracker.Phase(),
	}
	if s.state.RequestID != (common.Hash{}) {
		v.RequestID = s.state.RequestID.Hex()
	}
	if s.state.TxHash != (common.Hash{}) {
		v.TxHash = s.state.TxHash.Hex()
	}
	if connected {
		v.Account = account.Hex()
	}
	return v
}

func (s *OptionFlowService) figures() pricing.Figures {
	in := pricing.FromForm(s.form)
	in.Premium = s.tracker.Premium()
	in.ProtocolFeeBps = s.params.ProtocolFeeBps
	in.MinPremium = s.params.MinPremium
	in.Available = s.params.AvailableLiquidity
	return pricing.Derive(in)
}

// UpdateForm replaces the form parameters. Parameters are frozen once a
// quote has been requested until the flow returns to the form step.
func (s *OptionFlowService) UpdateForm(ctx context.Context, form models.FormParameters) error {
	return s.do(ctx, func() error {
		if s.state.Step != models.StepForm || s.tracker.Busy() {
			return models.ErrInvalidStep
		}
		s.form = form
		return nil
	})
}

// RequestQuote validates the form and starts a premium quote request
func (s *OptionFlowService) RequestQuote(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.Step != models.StepForm {
			return models.ErrInvalidStep
		}

		if err := s.form.Validate(); err != nil {
			fe := models.AsFlowError(err, models.KindValidation)
			s.dispatch(flow.Rejected{Err: fe})
			return fe
		}

		if !flow.CanRequestQuote(s.state, s.tracker.Busy(), s.figures()) {
			return models.ErrActionDisabled
		}

		if err := s.tracker.Request(s.form); err != nil {
			fe := models.AsFlowError(err, models.KindPrecondition)
			s.dispatch(flow.Rejected{Err: fe})
			return fe
		}
		return nil
	})
}

// Confirm pays total cost and mints the option for the fulfilled quote
func (s *OptionFlowService) Confirm(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.Step != models.StepReview {
			return models.ErrInvalidStep
		}
		if _, ok := s.client.Account(); !ok {
			fe := models.NewFlowError(models.KindPrecondition, models.ErrNotConnected)
			s.dispatch(flow.Rejected{Err: fe})
			return fe
		}

		fig := s.figures()
		if !flow.CanConfirm(s.state, fig) {
			return models.ErrActionDisabled
		}
		s.dispatch(flow.Confirm{RequestID: s.state.RequestID, Value: fig.TotalCost})
		return nil
	})
}

// Cancel abandons the quote under review
func (s *OptionFlowService) Cancel(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.Step != models.StepReview {
			return models.ErrInvalidStep
		}
		s.dispatch(flow.Cancel{})
		return nil
	})
}

// Reset returns the flow to its initial state from any step
func (s *OptionFlowService) Reset(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.dispatch(flow.Reset{})
		return nil
	})
}

// dispatch feeds ev to the machine and executes the resulting effects.
// Must run on the actor goroutine.
func (s *OptionFlowService) dispatch(ev flow.Event) {
	prev := s.state
	next, effects := flow.Transition(prev, ev)
	s.state = next

	if prev.Step != next.Step {
		s.publishTransition(prev.Step, next)
	}

	for _, eff := range effects {
		s.apply(eff)
	}
}

func (s *OptionFlowService) publishTransition(from models.Step, next flow.State) {
	ev := events.Transition{
		SessionID: s.session,
		From:      from,
		To:        next.Step,
		At:        time.Now(),
	}
	if next.RequestID != (common.Hash{}) {
		ev.RequestID = next.RequestID.Hex()
	}
	if next.TxHash != (common.Hash{}) {
		ev.TxHash = next.TxHash.Hex()
	}
	if next.Error != nil {
		ev.Error = next.Error.Message
	}

	ctx := logging.WithSessionID(s.ctx, s.session)
	s.logger.Info(ctx, "[FLOW_TRANSITION] Step changed", logging.Fields{
		"from":       from,
		"to":         next.Step,
		"request_id": ev.RequestID,
		"error":      ev.Error,
	})

	if s.hub != nil {
		s.hub.PublishTransition(ev)
	} else if s.metrics != nil {
		s.metrics.RecordFlowTransition(string(from), string(next.Step))
	}
}

func (s *OptionFlowService) apply(eff flow.Effect) {
	switch e := eff.(type) {
	case flow.ResetTracker:
		s.tracker.Reset()
	case flow.SubmitCreate:
		s.submitCreate(e)
	case flow.ScheduleReset:
		s.scheduleReset()
	case flow.CancelReset:
		s.cancelReset()
	case flow.ResetForm:
		s.form = models.DefaultFormParameters()
		s.session = uuid.NewString()
	}
}

func (s *OptionFlowService) scheduleReset() {
	s.cancelReset()
	gen := s.resetGen
	s.resetTimer = time.AfterFunc(s.cfg.SuccessResetDelay, func() {
		s.post(func() {
			if gen != s.resetGen {
				return
			}
			s.resetTimer = nil
			s.dispatch(flow.ResetElapsed{})
		})
	})
}

func (s *OptionFlowService) cancelReset() {
	s.resetGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

func (s *OptionFlowService) submitCreate(e flow.SubmitCreate) {
	s.createGen++
	gen := s.createGen
	deliver := func(ev flow.Event) {
		s.post(func() {
			if gen != s.createGen {
				return
			}
			s.dispatch(ev)
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		hash, err := s.client.CreateOptionWithQuote(s.ctx, e.RequestID, e.Value)
		if err != nil {
			fe := models.AsFlowError(err, models.KindSubmission)
			s.txs.submitFailed(models.ActionCreateOption, nil, fe)
			deliver(flow.CreateFailed{Err: fe})
			return
		}
		deliver(flow.CreateTxHash{Hash: hash})

		s.txs.Watch(TxRequest{
			Action:    models.ActionCreateOption,
			Hash:      hash,
			RequestID: e.RequestID,
			Value:     e.Value,
		}, func(fe *models.FlowError) {
			if fe != nil {
				deliver(flow.CreateFailed{Err: fe})
				return
			}
			deliver(flow.CreateObserved{Status: flow.CreateStatusSucceeded})
		})
	}()
}

// Close stops the actor and every background task it started
func (s *OptionFlowService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
		s.txs.Close()
		s.tracker.Wait()

		if s.resetTimer != nil {
			s.resetTimer.Stop()
		}
		s.logger.Info(context.Background(), "[FLOW_STOPPED] Option flow service stopped", logging.Fields{
			"session_id": s.session,
		})
	})
}

// trackerSignals feeds tracker signals into the machine
type trackerSignals struct {
	s *OptionFlowService
}

func (t trackerSignals) QuotePending() { t.s.dispatch(flow.QuotePending{}) }

func (t trackerSignals) QuoteSimulated(ok bool) { t.s.dispatch(flow.SimulationResult{OK: ok}) }

func (t trackerSignals) QuoteTxHash(hash common.Hash) { t.s.dispatch(flow.QuoteTxHash{Hash: hash}) }

func (t trackerSignals) QuoteFailed(err *models.FlowError) { t.s.dispatch(flow.QuoteFailed{Err: err}) }

func (t trackerSignals) QuoteFulfilled(requestID common.Hash, _ *big.Int) {
	t.s.dispatch(flow.QuoteFulfilled{RequestID: requestID})
}
