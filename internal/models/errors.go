package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an action needs a signing account and none is configured
	ErrNotConnected = errors.New("wallet not connected")

	// ErrActionDisabled is returned when a gated action is invoked while its gate is closed
	ErrActionDisabled = errors.New("action is currently disabled")

	// ErrInvalidStep is returned when an operation does not apply to the current flow step
	ErrInvalidStep = errors.New("operation not valid in current step")

	// ErrRequestIDNotFound is returned when a quote receipt carries no oracle-consumer log
	ErrRequestIDNotFound = errors.New("request id not found in transaction logs")
)

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// ErrorKind classifies failures surfaced by the purchase flow and action dispatchers
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindPrecondition      ErrorKind = "precondition"
	KindSimulation        ErrorKind = "simulation"
	KindSubmission        ErrorKind = "submission"
	KindReverted          ErrorKind = "reverted"
	KindRequestIDNotFound ErrorKind = "request_id_not_found"
	KindRead              ErrorKind = "read"
)

// FlowError is the user-visible error record attached to flow and action state
type FlowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	TxHash  string    `json:"tx_hash,omitempty"`
	Err     error     `json:"-"`
}

func (e *FlowError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s (tx %s)", e.Message, e.TxHash)
	}
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the same action may succeed
func (e *FlowError) IsTransient() bool {
	switch e.Kind {
	case KindSubmission, KindRead:
		return true
	default:
		return false
	}
}

// NewFlowError wraps err under kind, using err's text as the message.
func NewFlowError(kind ErrorKind, err error) *FlowError {
	msg := string(kind) + " failed"
	if err != nil {
		msg = err.Error()
	}
	return &FlowError{Kind: kind, Message: msg, Err: err}
}

// RevertedError builds the error reported when a mined transaction has failed status
func RevertedError(txHash string) *FlowError {
	return &FlowError{
		Kind:    KindReverted,
		Message: "transaction reverted on-chain",
		TxHash:  txHash,
	}
}

// AsFlowError converts any error into a FlowError, classifying it by type.
func AsFlowError(err error, fallback ErrorKind) *FlowError {
	if err == nil {
		return nil
	}

	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return &FlowError{Kind: KindValidation, Message: ve.Message, Err: err}
	}

	switch {
	case errors.Is(err, ErrNotConnected):
		return &FlowError{Kind: KindPrecondition, Message: ErrNotConnected.Error(), Err: err}
	case errors.Is(err, ErrRequestIDNotFound):
		return &FlowError{Kind: KindRequestIDNotFound, Message: ErrRequestIDNotFound.Error(), Err: err}
	}

	return NewFlowError(fallback, err)
}
