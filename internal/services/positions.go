package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"weather-options/internal/chain"
	"weather-options/internal/events"
	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// PositionService discovers and reads option tokens owned by an account
type PositionService struct {
	client    chain.Client
	hub       *events.Hub
	final     *lru.Cache
	scanLimit int
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewPositionService creates a position reader. Positions that can no longer
// change are kept in an LRU of cacheSize entries.
func NewPositionService(client chain.Client, hub *events.Hub, scanLimit, cacheSize int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*PositionService, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create position cache: %w", err)
	}

	return &PositionService{
		client:    client,
		hub:       hub,
		final:     cache,
		scanLimit: scanLimit,
		logger:    logger.WithFields(logging.Fields{"component": "positions"}),
		metrics:   metricsCollector,
	}, nil
}

// Discover returns the token ids owned by owner among ids [0, scanLimit).
// Ids whose ownerOf call fails are treated as nonexistent. Tokens with ids
// at or above the limit are not found.
func (s *PositionService) Discover(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	balance, err := s.client.BalanceOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	ids := make([]*big.Int, 0)
	if balance.Sign() == 0 {
		s.recordDiscovered(0)
		return ids, nil
	}

	for i := 0; i < s.scanLimit; i++ {
		if balance.IsInt64() && int64(len(ids)) >= balance.Int64() {
			break
		}

		id := big.NewInt(int64(i))
		holder, err := s.client.OwnerOf(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if holder == owner {
			ids = append(ids, id)
		}
	}

	if !balance.IsInt64() || int64(len(ids)) < balance.Int64() {
		s.logger.Warn(ctx, "[POSITIONS_SCAN_INCOMPLETE] Owner holds tokens beyond the scan limit", logging.Fields{
			"owner":      owner.Hex(),
			"balance":    balance.String(),
			"found":      len(ids),
			"scan_limit": s.scanLimit,
		})
	}

	s.recordDiscovered(len(ids))
	return ids, nil
}

func (s *PositionService) recordDiscovered(n int) {
	if s.metrics != nil {
		s.metrics.PositionsDiscovered.Set(float64(n))
	}
}

// Get reads terms, state and pending payout of tokenID
func (s *PositionService) Get(ctx context.Context, tokenID *big.Int) (*models.Position, error) {
	key := tokenID.String()
	if v, ok := s.final.Get(key); ok {
		cached := *v.(*models.Position)
		return &cached, nil
	}

	pos, err := s.client.GetOption(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to read option %s: %w", key, err)
	}
	pending, err := s.client.PendingPayout(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending payout of %s: %w", key, err)
	}

	pos.TokenID = new(big.Int).Set(tokenID)
	pos.PendingPayout = pending
	pos.ReadAt = time.Now()

	if pos.State.Status == models.StatusSettled && pending.Sign() == 0 {
		stored := *pos
		s.final.Add(key, &stored)
	}
	return pos, nil
}

// List discovers and reads every position of owner. Positions that fail to
// read are skipped and logged.
func (s *PositionService) List(ctx context.Context, owner common.Address) ([]*models.Position, error) {
	ids, err := s.Discover(ctx, owner)
	if err != nil {
		return nil, err
	}

	positions := make([]*models.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "[POSITION_READ_FAILED] Skipping unreadable position", logging.Fields{
				"token_id": id.String(),
				"error":    err.Error(),
			})
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// Refresh re-reads tokenID and publishes the snapshot for owner
func (s *PositionService) Refresh(ctx context.Context, tokenID *big.Int, owner common.Address) (*models.Position, error) {
	pos, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.PublishPosition(events.PositionRefreshed{Owner: owner.Hex(), Position: *pos})
	}
	return pos, nil
}

// Sync refreshes every position of owner, publishing a snapshot for each
func (s *PositionService) Sync(ctx context.Context, owner common.Address) (int, error) {
	positions, err := s.List(ctx, owner)
	if err != nil {
		return 0, err
	}
	if s.hub != nil {
		for _, pos := range positions {
			s.hub.PublishPosition(events.PositionRefreshed{Owner: owner.Hex(), Position: *pos})
		}
	}
	return len(positions), nil
}
