package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"weather-options/internal/chain"
	"weather-options/internal/events"
	"weather-options/internal/models"
	"weather-options/internal/pricing"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// VaultStatus reports in-flight liquidity actions and the last outcome
type VaultStatus struct {
	Pending     map[models.TxAction]bool  `json:"pending"`
	LastTxHash  string                    `json:"last_tx_hash,omitempty"`
	LastError   *models.FlowError         `json:"last_error,omitempty"`
	Metrics     *models.VaultMetrics      `json:"metrics,omitempty"`
	Position    *models.LiquidityPosition `json:"position,omitempty"`
	RefreshedAt time.Time                 `json:"refreshed_at"`
}

// VaultService reads the liquidity pool and submits wrap, approve, deposit
// and withdraw transactions for the configured account
type VaultService struct {
	client       chain.Client
	txs          *txWatcher
	refetchDelay time.Duration
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector

	pending *pendingSet

	mu          sync.Mutex
	lastTx      common.Hash
	lastErr     *models.FlowError
	lastMetrics *models.VaultMetrics
	lastPos     *models.LiquidityPosition
	refreshedAt time.Time
}

// NewVaultService creates a liquidity pool service
func NewVaultService(client chain.Client, hub *events.Hub, refetchDelay, receiptTimeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *VaultService {
	return &VaultService{
		client:       client,
		txs:          newTxWatcher(client, hub, receiptTimeout, logger, metricsCollector),
		refetchDelay: refetchDelay,
		logger:       logger.WithFields(logging.Fields{"component": "vault"}),
		metrics:      metricsCollector,
		pending:      newPendingSet(),
	}
}

// Metrics reads the pool summary
func (s *VaultService) Metrics(ctx context.Context) (*models.VaultMetrics, error) {
	m, err := s.client.VaultMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault metrics: %w", err)
	}
	s.mu.Lock()
	s.lastMetrics, s.refreshedAt = m, time.Now()
	s.mu.Unlock()
	return m, nil
}

// Position reads the configured account's stake, WETH balance and allowance
func (s *VaultService) Position(ctx context.Context) (*models.LiquidityPosition, error) {
	account, ok := s.client.Account()
	if !ok {
		return nil, models.ErrNotConnected
	}

	pos := &models.LiquidityPosition{Account: account}
	var err error
	if pos.Shares, err = s.client.VaultShares(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to read vault shares: %w", err)
	}
	if pos.MaxWithdraw, err = s.client.MaxWithdraw(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to read max withdraw: %w", err)
	}
	if pos.WETHBalance, err = s.client.WETHBalance(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to read WETH balance: %w", err)
	}
	if pos.Allowance, err = s.client.WETHAllowance(ctx, account, s.client.Addresses().Vault); err != nil {
		return nil, fmt.Errorf("failed to read WETH allowance: %w", err)
	}

	s.mu.Lock()
	s.lastPos = pos
	s.mu.Unlock()
	return pos, nil
}

// Wrap converts native ETH into WETH
func (s *VaultService) Wrap(ctx context.Context, amount string) (common.Hash, error) {
	return s.submit(ctx, models.ActionWrap, amount, func(ctx context.Context, _ common.Address, wei *big.Int) (common.Hash, error) {
		return s.client.WrapETH(ctx, wei)
	})
}

// Approve lets the vault pull amount WETH from the account
func (s *VaultService) Approve(ctx context.Context, amount string) (common.Hash, error) {
	return s.submit(ctx, models.ActionApprove, amount, func(ctx context.Context, _ common.Address, wei *big.Int) (common.Hash, error) {
		return s.client.ApproveWETH(ctx, s.client.Addresses().Vault, wei)
	})
}

// Deposit supplies amount WETH to the vault. Disabled while the allowance is short.
func (s *VaultService) Deposit(ctx context.Context, amount string) (common.Hash, error) {
	return s.submit(ctx, models.ActionDeposit, amount, func(ctx context.Context, account common.Address, wei *big.Int) (common.Hash, error) {
		allowance, err := s.client.WETHAllowance(ctx, account, s.client.Addresses().Vault)
		if err != nil {
			return common.Hash{}, models.NewFlowError(models.KindRead, err)
		}
		lp := models.LiquidityPosition{Allowance: allowance}
		if lp.NeedsApproval(wei) {
			return common.Hash{}, fmt.Errorf("allowance %s below deposit %s: %w", allowance, wei, models.ErrActionDisabled)
		}
		return s.client.VaultDeposit(ctx, wei, account)
	})
}

// Withdraw redeems amount WETH from the vault back to the account
func (s *VaultService) Withdraw(ctx context.Context, amount string) (common.Hash, error) {
	return s.submit(ctx, models.ActionWithdraw, amount, func(ctx context.Context, account common.Address, wei *big.Int) (common.Hash, error) {
		return s.client.VaultWithdraw(ctx, wei, account, account)
	})
}

type vaultSend func(ctx context.Context, account common.Address, wei *big.Int) (common.Hash, error)

func (s *VaultService) submit(ctx context.Context, action models.TxAction, amount string, send vaultSend) (common.Hash, error) {
	account, ok := s.client.Account()
	if !ok {
		return common.Hash{}, models.NewFlowError(models.KindPrecondition, models.ErrNotConnected)
	}

	wei, err := pricing.ParseEther(amount)
	if err != nil {
		return common.Hash{}, err
	}
	if wei.Sign() == 0 {
		return common.Hash{}, &models.ValidationError{Field: "amount", Value: amount, Message: "amount must be greater than zero"}
	}

	key := string(action)
	if !s.pending.begin(key) {
		return common.Hash{}, fmt.Errorf("%s already pending: %w", action, models.ErrActionDisabled)
	}

	hash, err := send(ctx, account, wei)
	if err != nil {
		s.pending.end(key)
		if errors.Is(err, models.ErrActionDisabled) {
			return common.Hash{}, err
		}
		fe := models.AsFlowError(err, models.KindSubmission)
		s.setOutcome(common.Hash{}, fe)
		s.txs.submitFailed(action, nil, fe)
		return common.Hash{}, fe
	}
	s.setOutcome(hash, nil)

	s.logger.Info(ctx, "[VAULT_SUBMITTED] Liquidity action submitted", logging.Fields{
		"action": action,
		"amount": amount,
		"hash":   hash.Hex(),
		"stage":  "SUBMISSION",
	})

	req := TxRequest{Action: action, Hash: hash}
	if action == models.ActionWrap {
		req.Value = wei
	}
	s.txs.Watch(req, func(fe *models.FlowError) {
		s.pending.end(key)
		s.setOutcome(hash, fe)
		if fe != nil {
			return
		}
		s.txs.after(s.refetchDelay, func(ctx context.Context) {
			if _, err := s.Metrics(ctx); err != nil {
				s.logger.Warn(ctx, "[VAULT_REFETCH_FAILED] Failed to re-read vault metrics", logging.Fields{"error": err.Error()})
			}
			if _, err := s.Position(ctx); err != nil {
				s.logger.Warn(ctx, "[VAULT_REFETCH_FAILED] Failed to re-read liquidity position", logging.Fields{"error": err.Error()})
			}
		})
	})

	return hash, nil
}

func (s *VaultService) setOutcome(hash common.Hash, fe *models.FlowError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash != (common.Hash{}) {
		s.lastTx = hash
	}
	s.lastErr = fe
}

// Status returns the pending flags and the most recent reads and outcome
func (s *VaultService) Status() VaultStatus {
	st := VaultStatus{Pending: make(map[models.TxAction]bool)}
	for _, a := range []models.TxAction{models.ActionWrap, models.ActionApprove, models.ActionDeposit, models.ActionWithdraw} {
		st.Pending[a] = s.pending.has(string(a))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTx != (common.Hash{}) {
		st.LastTxHash = s.lastTx.Hex()
	}
	st.LastError = s.lastErr
	st.Metrics = s.lastMetrics
	st.Position = s.lastPos
	st.RefreshedAt = s.refreshedAt
	return st
}

// Close abandons outstanding receipt waits and refetches
func (s *VaultService) Close() {
	s.txs.Close()
}
