package flow

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/models"
	"weather-options/internal/pricing"
)

var reqID = common.HexToHash("0x01")

func run(t *testing.T, s State, events ...Event) (State, []Effect) {
	t.Helper()
	var all []Effect
	for _, ev := range events {
		var effects []Effect
		s, effects = Transition(s, ev)
		all = append(all, effects...)
	}
	return s, all
}

func TestTransition_HappyPath(t *testing.T) {
	s, effects := run(t, Initial(),
		QuotePending{},
		SimulationResult{OK: true},
		QuoteTxHash{Hash: common.HexToHash("0xaa")},
		QuoteFulfilled{RequestID: reqID},
	)
	require.Equal(t, models.StepReview, s.Step)
	assert.Equal(t, reqID, s.RequestID)
	assert.True(t, s.SimulationSucceeded)
	assert.Empty(t, effects)

	s, effects = Transition(s, Confirm{RequestID: reqID, Value: big.NewInt(100)})
	require.Equal(t, models.StepCreating, s.Step)
	assert.Equal(t, CreateStatusPending, s.CreateStatus)
	require.Len(t, effects, 1)
	assert.Equal(t, SubmitCreate{RequestID: reqID, Value: big.NewInt(100)}, effects[0])

	s, effects = Transition(s, CreateObserved{Status: CreateStatusSucceeded})
	require.Equal(t, models.StepSuccess, s.Step)
	assert.Equal(t, []Effect{ScheduleReset{}}, effects)

	s, effects = Transition(s, ResetElapsed{})
	assert.Equal(t, Initial(), s)
	assert.Equal(t, []Effect{ResetForm{}, ResetTracker{}}, effects)
}

func TestTransition_SuccessFiresOnce(t *testing.T) {
	s, _ := run(t, Initial(),
		QuotePending{},
		QuoteFulfilled{RequestID: reqID},
		Confirm{RequestID: reqID, Value: big.NewInt(1)},
	)

	s, first := Transition(s, CreateObserved{Status: CreateStatusSucceeded})
	s, second := Transition(s, CreateObserved{Status: CreateStatusSucceeded})

	assert.Equal(t, models.StepSuccess, s.Step)
	assert.Equal(t, []Effect{ScheduleReset{}}, first)
	assert.Empty(t, second)
}

func TestTransition_QuoteFailureReturnsToForm(t *testing.T) {
	fe := &models.FlowError{Kind: models.KindRequestIDNotFound, Message: models.ErrRequestIDNotFound.Error()}
	s, _ := run(t, Initial(), QuotePending{}, QuoteFailed{Err: fe})

	assert.Equal(t, models.StepForm, s.Step)
	require.NotNil(t, s.Error)
	assert.Contains(t, s.Error.Message, "request id not found")

	s, _ = Transition(s, QuotePending{})
	assert.Equal(t, models.StepQuoteLoading, s.Step)
	assert.Nil(t, s.Error)
}

func TestTransition_CancelClearsRequest(t *testing.T) {
	s, _ := run(t, Initial(), QuotePending{}, QuoteFulfilled{RequestID: reqID})

	s, effects := Transition(s, Cancel{})
	assert.Equal(t, models.StepForm, s.Step)
	assert.Equal(t, common.Hash{}, s.RequestID)
	assert.Equal(t, []Effect{ResetTracker{}}, effects)
}

func TestTransition_CreateFailureReturnsToReview(t *testing.T) {
	s, _ := run(t, Initial(),
		QuotePending{},
		QuoteFulfilled{RequestID: reqID},
		Confirm{RequestID: reqID, Value: big.NewInt(1)},
	)

	s, effects := Transition(s, CreateFailed{Err: models.RevertedError("0xbeef")})
	assert.Equal(t, models.StepReview, s.Step)
	assert.Equal(t, CreateStatusFailed, s.CreateStatus)
	assert.Equal(t, models.KindReverted, s.Error.Kind)
	assert.Empty(t, effects)

	s, effects = Transition(s, Confirm{RequestID: reqID, Value: big.NewInt(1)})
	assert.Equal(t, models.StepCreating, s.Step)
	assert.Len(t, effects, 1)
}

func TestTransition_IgnoresEventsOutOfStep(t *testing.T) {
	tests := []struct {
		name  string
		start []Event
		ev    Event
	}{
		{name: "fulfilled in form", ev: QuoteFulfilled{RequestID: reqID}},
		{name: "confirm in form", ev: Confirm{RequestID: reqID, Value: big.NewInt(1)}},
		{name: "cancel in quote-loading", start: []Event{QuotePending{}}, ev: Cancel{}},
		{name: "late fulfilled in review", start: []Event{QuotePending{}, QuoteFulfilled{RequestID: reqID}}, ev: QuoteFulfilled{RequestID: common.HexToHash("0x02")}},
		{name: "confirm without value", start: []Event{QuotePending{}, QuoteFulfilled{RequestID: reqID}}, ev: Confirm{RequestID: reqID}},
		{name: "reset elapsed outside success", start: []Event{QuotePending{}}, ev: ResetElapsed{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := run(t, Initial(), tt.start...)
			got, effects := Transition(s, tt.ev)
			assert.Equal(t, s, got)
			assert.Empty(t, effects)
		})
	}
}

func TestTransition_ResetFromAnyStep(t *testing.T) {
	s, _ := run(t, Initial(),
		QuotePending{},
		QuoteFulfilled{RequestID: reqID},
		Confirm{RequestID: reqID, Value: big.NewInt(1)},
		CreateObserved{Status: CreateStatusSucceeded},
	)

	s, effects := Transition(s, Reset{})
	assert.Equal(t, Initial(), s)
	assert.Equal(t, []Effect{CancelReset{}, ResetTracker{}}, effects)
}

func TestTransition_ValidationKeepsStep(t *testing.T) {
	fe := &models.FlowError{Kind: models.KindValidation, Message: "please enter both latitude and longitude"}
	s, effects := Transition(Initial(), Rejected{Err: fe})
	assert.Equal(t, models.StepForm, s.Step)
	assert.Equal(t, fe, s.Error)
	assert.Empty(t, effects)
}

func TestGates(t *testing.T) {
	form := Initial()
	review := State{Step: models.StepReview, RequestID: reqID}
	pending := review
	pending.CreateStatus = CreateStatusPending

	liquid := pricing.Figures{HasEnoughLiquidity: true, IsPremiumValid: true, TotalCost: big.NewInt(10)}
	dry := pricing.Figures{HasEnoughLiquidity: false, IsPremiumValid: true, TotalCost: big.NewInt(10)}
	cheap := pricing.Figures{HasEnoughLiquidity: true, IsPremiumValid: false, TotalCost: big.NewInt(10)}

	assert.True(t, CanRequestQuote(form, false, liquid))
	assert.False(t, CanRequestQuote(form, true, liquid))
	assert.False(t, CanRequestQuote(form, false, dry))
	assert.False(t, CanRequestQuote(review, false, liquid))

	assert.True(t, CanConfirm(review, liquid))
	assert.False(t, CanConfirm(pending, liquid))
	assert.False(t, CanConfirm(review, cheap))
	assert.False(t, CanConfirm(form, liquid))
}
