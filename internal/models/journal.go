package models

import (
	"database/sql"
	"math/big"
	"time"
)

// Step is the purchase flow position
type Step string

const (
	StepForm         Step = "form"
	StepQuoteLoading Step = "quote-loading"
	StepReview       Step = "review"
	StepCreating     Step = "creating"
	StepSuccess      Step = "success"
)

// TxAction names a submitted transaction for journaling and metrics
type TxAction string

const (
	ActionRequestQuote      TxAction = "request_quote"
	ActionCreateOption      TxAction = "create_option"
	ActionRequestSettlement TxAction = "request_settlement"
	ActionFinalize          TxAction = "finalize_settlement"
	ActionClaim             TxAction = "claim_payout"
	ActionWrap              TxAction = "wrap_eth"
	ActionApprove           TxAction = "approve_weth"
	ActionDeposit           TxAction = "vault_deposit"
	ActionWithdraw          TxAction = "vault_withdraw"
)

// TxStatus is the journaled outcome of a transaction
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
	TxFailed    TxStatus = "failed"
)

// FlowTransition is one persisted step change of a purchase session
type FlowTransition struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	FromStep  Step      `json:"from_step" db:"from_step"`
	ToStep    Step      `json:"to_step" db:"to_step"`
	RequestID string    `json:"request_id,omitempty" db:"request_id"`
	TxHash    string    `json:"tx_hash,omitempty" db:"tx_hash"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TransactionRecord is the journal entry of a submitted transaction
type TransactionRecord struct {
	Hash        string       `json:"hash" db:"hash"`
	Action      TxAction     `json:"action" db:"action"`
	TokenID     string       `json:"token_id,omitempty" db:"token_id"`
	RequestID   string       `json:"request_id,omitempty" db:"request_id"`
	Value       string       `json:"value,omitempty" db:"value_wei"`
	Status      TxStatus     `json:"status" db:"status"`
	Error       string       `json:"error,omitempty" db:"error"`
	SubmittedAt time.Time    `json:"submitted_at" db:"submitted_at"`
	ConfirmedAt sql.NullTime `json:"-" db:"confirmed_at"`
}

// PositionSnapshot is a flattened Position stored for history and offline reads
type PositionSnapshot struct {
	TokenID        string    `json:"token_id" db:"token_id"`
	Owner          string    `json:"owner" db:"owner"`
	Kind           string    `json:"kind" db:"kind"`
	Latitude       string    `json:"latitude" db:"latitude"`
	Longitude      string    `json:"longitude" db:"longitude"`
	StartDate      int64     `json:"start_date" db:"start_date"`
	ExpiryDate     int64     `json:"expiry_date" db:"expiry_date"`
	StrikeMM       string    `json:"strike_mm" db:"strike_mm"`
	SpreadMM       string    `json:"spread_mm" db:"spread_mm"`
	NotionalWei    string    `json:"notional_wei" db:"notional_wei"`
	PremiumWei     string    `json:"premium_wei" db:"premium_wei"`
	Status         string    `json:"status" db:"status"`
	ActualRainfall string    `json:"actual_rainfall" db:"actual_rainfall"`
	FinalPayoutWei string    `json:"final_payout_wei" db:"final_payout_wei"`
	PendingWei     string    `json:"pending_payout_wei" db:"pending_payout_wei"`
	ReadAt         time.Time `json:"read_at" db:"read_at"`
}

// Snapshot flattens p for persistence
func (p *Position) Snapshot(owner string) *PositionSnapshot {
	return &PositionSnapshot{
		TokenID:        bigString(p.TokenID),
		Owner:          owner,
		Kind:           p.Terms.Kind.String(),
		Latitude:       p.Terms.Latitude,
		Longitude:      p.Terms.Longitude,
		StartDate:      int64(p.Terms.StartDate),
		ExpiryDate:     int64(p.Terms.ExpiryDate),
		StrikeMM:       bigString(p.Terms.StrikeMM),
		SpreadMM:       bigString(p.Terms.SpreadMM),
		NotionalWei:    bigString(p.Terms.Notional),
		PremiumWei:     bigString(p.Terms.Premium),
		Status:         p.State.Status.String(),
		ActualRainfall: bigString(p.State.ActualRainfall),
		FinalPayoutWei: bigString(p.State.FinalPayout),
		PendingWei:     bigString(p.PendingPayout),
		ReadAt:         p.ReadAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// TransactionSummary counts journaled transactions of one action and status
type TransactionSummary struct {
	Action          TxAction  `json:"action" db:"action"`
	Status          TxStatus  `json:"status" db:"status"`
	Count           int       `json:"count" db:"count"`
	LastSubmittedAt time.Time `json:"last_submitted_at" db:"last_submitted_at"`
}
