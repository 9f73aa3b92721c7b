package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/chain/chaintest"
	"weather-options/internal/models"
)

func newSettlement(t *testing.T, fake *chaintest.Fake) *SettlementService {
	t.Helper()
	positions, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
	require.NoError(t, err)
	svc := NewSettlementService(fake, positions, nil, 10*time.Millisecond, time.Second, testLogger(), testMetrics())
	t.Cleanup(svc.Close)
	return svc
}

func TestSettlement_RequestSettlement(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	id := big.NewInt(3)
	fake.SetPosition(expiredPosition(3, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
	fake.OnConfirm("requestSettlement", func(f *chaintest.Fake, c chaintest.Call) {
		f.SetStatus(id, models.StatusSettling)
	})
	svc := newSettlement(t, fake)

	hash, err := svc.RequestSettlement(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	calls := fake.Calls("requestSettlement")
	require.Len(t, calls, 1)
	assert.Equal(t, id, calls[0].Args[0])

	require.Eventually(t, func() bool {
		v, err := svc.View(ctx, id)
		return err == nil && v.State.Status == models.StatusSettling && !v.Actions.RequestPending
	}, waitFor, tick)

	v, err := svc.View(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.CanRequestSettlement)
	assert.True(t, v.CanFinalizeSettlement)
	assert.Equal(t, hash.Hex(), v.Actions.LastTxHash)
	assert.Nil(t, v.Actions.LastError)
}

func TestSettlement_PendingIsPerPositionAndAction(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	fake.SetPosition(expiredPosition(1, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
	fake.SetPosition(expiredPosition(2, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
	svc := newSettlement(t, fake)

	fake.HoldReceipts()

	_, err := svc.RequestSettlement(ctx, big.NewInt(1))
	require.NoError(t, err)

	_, err = svc.RequestSettlement(ctx, big.NewInt(1))
	assert.ErrorIs(t, err, models.ErrActionDisabled)

	// other position and other action are independent
	_, err = svc.RequestSettlement(ctx, big.NewInt(2))
	require.NoError(t, err)
	_, err = svc.FinalizeSettlement(ctx, big.NewInt(1))
	require.NoError(t, err)

	st := svc.Status(big.NewInt(1))
	assert.True(t, st.RequestPending)
	assert.True(t, st.FinalizePending)
	assert.False(t, st.ClaimPending)

	fake.ReleaseReceipts()
	require.Eventually(t, func() bool {
		st := svc.Status(big.NewInt(1))
		return !st.RequestPending && !st.FinalizePending
	}, waitFor, tick)
	assert.Len(t, fake.Calls("requestSettlement"), 2)
}

func TestSettlement_Gating(t *testing.T) {
	ctx := context.Background()

	future := expiredPosition(4, models.StatusActive)
	future.Terms.ExpiryDate = uint64(time.Now().Add(24 * time.Hour).Unix())

	tests := []struct {
		name    string
		pos     *models.Position
		pending *big.Int
		action  func(*SettlementService, *big.Int) error
	}{
		{
			name: "settle before expiry",
			pos:  future,
			action: func(s *SettlementService, id *big.Int) error {
				_, err := s.RequestSettlement(ctx, id)
				return err
			},
		},
		{
			name: "finalize before expiry",
			pos:  future,
			action: func(s *SettlementService, id *big.Int) error {
				_, err := s.FinalizeSettlement(ctx, id)
				return err
			},
		},
		{
			name: "request on settling position",
			pos:  expiredPosition(4, models.StatusSettling),
			action: func(s *SettlementService, id *big.Int) error {
				_, err := s.RequestSettlement(ctx, id)
				return err
			},
		},
		{
			name:    "claim with nothing pending",
			pos:     expiredPosition(4, models.StatusSettled),
			pending: big.NewInt(0),
			action: func(s *SettlementService, id *big.Int) error {
				_, err := s.ClaimPayout(ctx, id)
				return err
			},
		},
		{
			name:    "claim before settlement",
			pos:     expiredPosition(4, models.StatusSettling),
			pending: big.NewInt(5),
			action: func(s *SettlementService, id *big.Int) error {
				_, err := s.ClaimPayout(ctx, id)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.NewFake()
			fake.SetPosition(tt.pos, chaintest.DefaultAccount, tt.pending)
			svc := newSettlement(t, fake)

			err := tt.action(svc, big.NewInt(4))
			assert.ErrorIs(t, err, models.ErrActionDisabled)
			assert.Empty(t, fake.Calls(""))
		})
	}
}

func TestSettlement_ClaimPayout(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	id := big.NewInt(9)
	fake.SetPosition(expiredPosition(9, models.StatusSettled), chaintest.DefaultAccount, big.NewInt(5e15))
	fake.OnConfirm("claimPayout", func(f *chaintest.Fake, c chaintest.Call) {
		f.SetPending(id, big.NewInt(0))
	})
	svc := newSettlement(t, fake)

	v, err := svc.View(ctx, id)
	require.NoError(t, err)
	assert.True(t, v.CanClaim)

	_, err = svc.ClaimPayout(ctx, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := svc.View(ctx, id)
		return err == nil && !v.CanClaim && !v.Actions.ClaimPending
	}, waitFor, tick)
}

func TestSettlement_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("reverted", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetPosition(expiredPosition(5, models.StatusSettling), chaintest.DefaultAccount, big.NewInt(0))
		fake.SetReverted("settle", true)
		svc := newSettlement(t, fake)

		_, err := svc.FinalizeSettlement(ctx, big.NewInt(5))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			st := svc.Status(big.NewInt(5))
			return !st.FinalizePending && st.LastError != nil
		}, waitFor, tick)
		assert.Equal(t, models.KindReverted, svc.Status(big.NewInt(5)).LastError.Kind)
	})

	t.Run("submission", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetPosition(expiredPosition(5, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
		fake.SetSubmitError("requestSettlement", errors.New("nonce too low"))
		svc := newSettlement(t, fake)

		_, err := svc.RequestSettlement(ctx, big.NewInt(5))
		var fe *models.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, models.KindSubmission, fe.Kind)

		st := svc.Status(big.NewInt(5))
		assert.False(t, st.RequestPending)
		assert.Equal(t, fe, st.LastError)
	})

	t.Run("not connected", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetPosition(expiredPosition(5, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
		fake.SetAccount(common.Address{}, false)
		svc := newSettlement(t, fake)

		_, err := svc.RequestSettlement(ctx, big.NewInt(5))
		assert.ErrorIs(t, err, models.ErrNotConnected)
	})
}

func TestSettlement_List(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	fake.SetPosition(expiredPosition(0, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
	fake.SetPosition(expiredPosition(1, models.StatusActive), common.HexToAddress("0xB0B"), big.NewInt(0))
	fake.SetPosition(expiredPosition(2, models.StatusSettled), chaintest.DefaultAccount, big.NewInt(7))
	svc := newSettlement(t, fake)

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(0), views[0].TokenID.Int64())
	assert.True(t, views[0].CanRequestSettlement)
	assert.Equal(t, int64(2), views[1].TokenID.Int64())
	assert.True(t, views[1].CanClaim)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(1e16), big.NewInt(50)), views[1].MaxPayout)
}
