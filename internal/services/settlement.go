package services

import (
	"context"
	"fmt"
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

// SettlementStatus is the dispatcher's view of one position
type SettlementStatus struct {
	RequestPending  bool              `json:"request_pending"`
	FinalizePending bool              `json:"finalize_pending"`
	ClaimPending    bool              `json:"claim_pending"`
	LastTxHash      string            `json:"last_tx_hash,omitempty"`
	LastError       *models.FlowError `json:"last_error,omitempty"`
}

// PositionView is a position with its action gates and in-flight flags
type PositionView struct {
	*models.Position
	MaxPayout             *big.Int         `json:"max_payout"`
	Expired               bool             `json:"expired"`
	CanRequestSettlement  bool             `json:"can_request_settlement"`
	CanFinalizeSettlement bool             `json:"can_finalize_settlement"`
	CanClaim              bool             `json:"can_claim"`
	Actions               SettlementStatus `json:"actions"`
}

type settlementAction struct {
	action  models.TxAction
	allowed func(p *models.Position, now time.Time) bool
	send    func(ctx context.Context, tokenID *big.Int) (common.Hash, error)
}

// SettlementService submits settlement requests, finalizations and payout
// claims for owned positions. It never changes position state itself; the
// position is re-read after each confirmed transaction.
type SettlementService struct {
	client       chain.Client
	positions    *PositionService
	txs          *txWatcher
	refetchDelay time.Duration
	clock        func() time.Time
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector

	pending *pendingSet

	mu      sync.Mutex
	lastTx  map[string]common.Hash
	lastErr map[string]*models.FlowError
}

// NewSettlementService creates a dispatcher over positions
func NewSettlementService(client chain.Client, positions *PositionService, hub *events.Hub, refetchDelay, receiptTimeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SettlementService {
	return &SettlementService{
		client:       client,
		positions:    positions,
		txs:          newTxWatcher(client, hub, receiptTimeout, logger, metricsCollector),
		refetchDelay: refetchDelay,
		clock:        time.Now,
		logger:       logger.WithFields(logging.Fields{"component": "settlement"}),
		metrics:      metricsCollector,
		pending:      newPendingSet(),
		lastTx:       make(map[string]common.Hash),
		lastErr:      make(map[string]*models.FlowError),
	}
}

func pendingKey(tokenID *big.Int, action models.TxAction) string {
	return tokenID.String() + "/" + string(action)
}

// RequestSettlement asks the oracle for the observed rainfall of an expired, active position
func (s *SettlementService) RequestSettlement(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return s.submit(ctx, tokenID, settlementAction{
		action:  models.ActionRequestSettlement,
		allowed: (*models.Position).CanRequestSettlement,
		send:    s.client.RequestSettlement,
	})
}

// FinalizeSettlement settles an expired position that is active or settling
func (s *SettlementService) FinalizeSettlement(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return s.submit(ctx, tokenID, settlementAction{
		action:  models.ActionFinalize,
		allowed: (*models.Position).CanFinalizeSettlement,
		send:    s.client.Settle,
	})
}

// ClaimPayout withdraws the pending payout of a settled position
func (s *SettlementService) ClaimPayout(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return s.submit(ctx, tokenID, settlementAction{
		action: models.ActionClaim,
		allowed: func(p *models.Position, _ time.Time) bool {
			return p.CanClaim()
		},
		send: s.client.ClaimPayout,
	})
}

func (s *SettlementService) submit(ctx context.Context, tokenID *big.Int, a settlementAction) (common.Hash, error) {
	account, ok := s.client.Account()
	if !ok {
		return common.Hash{}, models.NewFlowError(models.KindPrecondition, models.ErrNotConnected)
	}

	pos, err := s.positions.Get(ctx, tokenID)
	if err != nil {
		return common.Hash{}, models.NewFlowError(models.KindRead, err)
	}
	if !a.allowed(pos, s.clock()) {
		return common.Hash{}, fmt.Errorf("%s on position %s (status %s): %w", a.action, tokenID, pos.State.Status, models.ErrActionDisabled)
	}

	key := pendingKey(tokenID, a.action)
	if !s.pending.begin(key) {
		return common.Hash{}, fmt.Errorf("%s on position %s already pending: %w", a.action, tokenID, models.ErrActionDisabled)
	}

	hash, err := a.send(ctx, tokenID)
	if err != nil {
		fe := models.AsFlowError(err, models.KindSubmission)
		s.pending.end(key)
		s.setOutcome(tokenID, common.Hash{}, fe)
		s.txs.submitFailed(a.action, tokenID, fe)
		return common.Hash{}, fe
	}
	s.setOutcome(tokenID, hash, nil)

	s.logger.Info(ctx, "[SETTLEMENT_SUBMITTED] Position action submitted", logging.Fields{
		"action":   a.action,
		"token_id": tokenID.String(),
		"hash":     hash.Hex(),
		"stage":    "SUBMISSION",
	})

	id := new(big.Int).Set(tokenID)
	s.txs.Watch(TxRequest{Action: a.action, Hash: hash, TokenID: id}, func(fe *models.FlowError) {
		s.pending.end(key)
		s.setOutcome(id, hash, fe)
		if fe != nil {
			return
		}
		s.txs.after(s.refetchDelay, func(ctx context.Context) {
			if _, err := s.positions.Refresh(ctx, id, account); err != nil {
				s.logger.Warn(ctx, "[SETTLEMENT_REFETCH_FAILED] Failed to re-read position", logging.Fields{
					"token_id": id.String(),
					"error":    err.Error(),
				})
			}
		})
	})

	return hash, nil
}

func (s *SettlementService) setOutcome(tokenID *big.Int, hash common.Hash, fe *models.FlowError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenID.String()
	if hash != (common.Hash{}) {
		s.lastTx[key] = hash
	}
	s.lastErr[key] = fe
}

// Status returns the in-flight flags and last outcome for tokenID
func (s *SettlementService) Status(tokenID *big.Int) SettlementStatus {
	st := SettlementStatus{
		RequestPending:  s.pending.has(pendingKey(tokenID, models.ActionRequestSettlement)),
		FinalizePending: s.pending.has(pendingKey(tokenID, models.ActionFinalize)),
		ClaimPending:    s.pending.has(pendingKey(tokenID, models.ActionClaim)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenID.String()
	if h, ok := s.lastTx[key]; ok {
		st.LastTxHash = h.Hex()
	}
	st.LastError = s.lastErr[key]
	return st
}

// View reads tokenID and attaches gates and in-flight flags
func (s *SettlementService) View(ctx context.Context, tokenID *big.Int) (*PositionView, error) {
	pos, err := s.positions.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return s.view(pos), nil
}

// List returns views of every position held by the configured account
func (s *SettlementService) List(ctx context.Context) ([]*PositionView, error) {
	account, ok := s.client.Account()
	if !ok {
		return nil, models.ErrNotConnected
	}
	positions, err := s.positions.List(ctx, account)
	if err != nil {
		return nil, err
	}
	views := make([]*PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, s.view(p))
	}
	return views, nil
}

func (s *SettlementService) view(p *models.Position) *PositionView {
	now := s.clock()
	return &PositionView{
		Position:              p,
		MaxPayout:             p.MaxPayout(),
		Expired:               p.IsExpired(now),
		CanRequestSettlement:  p.CanRequestSettlement(now),
		CanFinalizeSettlement: p.CanFinalizeSettlement(now),
		CanClaim:              p.CanClaim(),
		Actions:               s.Status(p.TokenID),
	}
}

// Close abandons outstanding receipt waits and refetches
func (s *SettlementService) Close() {
	s.txs.Close()
}
