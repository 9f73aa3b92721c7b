// Package flow holds the purchase workflow as a pure transition function.
// Transition never performs I/O; side effects are returned as Effect values
// for the owning actor to execute.
package flow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"weather-options/internal/models"
)

// CreateStatus tracks the create-option transaction as last observed
type CreateStatus int

const (
	CreateStatusIdle CreateStatus = iota
	CreateStatusPending
	CreateStatusSucceeded
	CreateStatusFailed
)

func (s CreateStatus) String() string {
	switch s {
	case CreateStatusPending:
		return "pending"
	case CreateStatusSucceeded:
		return "success"
	case CreateStatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is the complete flow state
type State struct {
	Step                models.Step
	RequestID           common.Hash
	Error               *models.FlowError
	TxHash              common.Hash
	SimulationSucceeded bool
	CreateStatus        CreateStatus
}

// Initial returns the state a new or reset flow starts in
func Initial() State {
	return State{Step: models.StepForm}
}

// Event is an input to the machine
type Event interface {
	isEvent()
}

type (
	// QuotePending: the tracker started a request
	QuotePending struct{}
	// QuoteFailed: the tracker reported an error
	QuoteFailed struct{ Err *models.FlowError }
	// QuoteFulfilled: the oracle reported a premium for RequestID
	QuoteFulfilled struct{ RequestID common.Hash }
	// QuoteTxHash: the quote transaction was broadcast
	QuoteTxHash struct{ Hash common.Hash }
	// SimulationResult: outcome of the dry run
	SimulationResult struct{ OK bool }
	// Rejected: input or a precondition was rejected before any network call
	Rejected struct{ Err *models.FlowError }
	// Cancel: the user abandoned the quote under review
	Cancel struct{}
	// Confirm: the user accepted the quote and will pay Value
	Confirm struct {
		RequestID common.Hash
		Value     *big.Int
	}
	// CreateTxHash: the create transaction was broadcast
	CreateTxHash struct{ Hash common.Hash }
	// CreateFailed: submission failed or the transaction reverted
	CreateFailed struct{ Err *models.FlowError }
	// CreateObserved: a receipt status for the create transaction was observed
	CreateObserved struct{ Status CreateStatus }
	// ResetElapsed: the post-success delay has passed
	ResetElapsed struct{}
	// Reset: unconditional return to the initial state
	Reset struct{}
)

func (QuotePending) isEvent()     {}
func (QuoteFailed) isEvent()      {}
func (QuoteFulfilled) isEvent()   {}
func (QuoteTxHash) isEvent()      {}
func (SimulationResult) isEvent() {}
func (Rejected) isEvent()         {}
func (Cancel) isEvent()           {}
func (Confirm) isEvent()          {}
func (CreateTxHash) isEvent()     {}
func (CreateFailed) isEvent()     {}
func (CreateObserved) isEvent()   {}
func (ResetElapsed) isEvent()     {}
func (Reset) isEvent()            {}

// Effect is a side effect requested by a transition
type Effect interface {
	isEffect()
}

type (
	// ResetTracker clears the quote tracker and stops polling
	ResetTracker struct{}
	// SubmitCreate sends createOptionWithQuote with the given value
	SubmitCreate struct {
		RequestID common.Hash
		Value     *big.Int
	}
	// ScheduleReset arms the post-success timer
	ScheduleReset struct{}
	// CancelReset disarms the post-success timer
	CancelReset struct{}
	// ResetForm restores the default form parameters
	ResetForm struct{}
)

func (ResetTracker) isEffect()  {}
func (SubmitCreate) isEffect()  {}
func (ScheduleReset) isEffect() {}
func (CancelReset) isEffect()   {}
func (ResetForm) isEffect()     {}

// Transition applies ev to s. Events that do not apply to the current step
// return s unchanged and no effects.
func Transition(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case Reset:
		return Initial(), []Effect{CancelReset{}, ResetTracker{}}

	case Rejected:
		s.Error = e.Err
		return s, nil

	case QuoteTxHash:
		s.TxHash = e.Hash
		return s, nil

	case CreateTxHash:
		if s.Step == models.StepCreating {
			s.TxHash = e.Hash
		}
		return s, nil

	case SimulationResult:
		s.SimulationSucceeded = e.OK
		return s, nil
	}

	switch s.Step {
	case models.StepForm:
		switch e := ev.(type) {
		case QuotePending:
			s.Step = models.StepQuoteLoading
			s.Error = nil
			return s, nil
		case QuoteFailed:
			s.Error = e.Err
			return s, nil
		}

	case models.StepQuoteLoading:
		switch e := ev.(type) {
		case QuoteFailed:
			s.Step = models.StepForm
			s.Error = e.Err
			return s, nil
		case QuoteFulfilled:
			s.Step = models.StepReview
			s.RequestID = e.RequestID
			return s, nil
		}

	case models.StepReview:
		switch e := ev.(type) {
		case Cancel:
			s.Step = models.StepForm
			s.RequestID = common.Hash{}
			s.Error = nil
			s.SimulationSucceeded = false
			return s, []Effect{ResetTracker{}}
		case Confirm:
			if e.RequestID == (common.Hash{}) || e.Value == nil || e.Value.Sign() <= 0 {
				return s, nil
			}
			s.Step = models.StepCreating
			s.Error = nil
			s.CreateStatus = CreateStatusPending
			return s, []Effect{SubmitCreate{RequestID: e.RequestID, Value: e.Value}}
		}

	case models.StepCreating:
		switch e := ev.(type) {
		case CreateFailed:
			s.Step = models.StepReview
			s.Error = e.Err
			s.CreateStatus = CreateStatusFailed
			return s, nil
		case CreateObserved:
			prev := s.CreateStatus
			s.CreateStatus = e.Status
			if prev != CreateStatusSucceeded && e.Status == CreateStatusSucceeded {
				s.Step = models.StepSuccess
				return s, []Effect{ScheduleReset{}}
			}
			return s, nil
		}

	case models.StepSuccess:
		switch ev.(type) {
		case ResetElapsed:
			return Initial(), []Effect{ResetForm{}, ResetTracker{}}
		}
	}

	return s, nil
}
