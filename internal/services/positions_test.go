package services

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/chain/chaintest"
	"weather-options/internal/models"
)

func TestPositions_Discover(t *testing.T) {
	ctx := context.Background()
	other := common.HexToAddress("0xB0B")

	t.Run("stops once balance is accounted for", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetPosition(expiredPosition(0, models.StatusActive), chaintest.DefaultAccount, nil)
		fake.SetPosition(expiredPosition(1, models.StatusActive), other, nil)
		fake.SetPosition(expiredPosition(2, models.StatusActive), chaintest.DefaultAccount, nil)

		collector := testMetrics()
		svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), collector)
		require.NoError(t, err)

		ids, err := svc.Discover(ctx, chaintest.DefaultAccount)
		require.NoError(t, err)
		assert.Equal(t, []*big.Int{big.NewInt(0), big.NewInt(2)}, ids)
		assert.Equal(t, 3, fake.Reads("ownerOf"))
		assert.Equal(t, 2.0, testutil.ToFloat64(collector.PositionsDiscovered))
	})

	t.Run("bounded by scan limit", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetPosition(expiredPosition(1, models.StatusActive), chaintest.DefaultAccount, nil)
		fake.SetPosition(expiredPosition(60, models.StatusActive), chaintest.DefaultAccount, nil)

		svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
		require.NoError(t, err)

		ids, err := svc.Discover(ctx, chaintest.DefaultAccount)
		require.NoError(t, err)
		assert.Equal(t, []*big.Int{big.NewInt(1)}, ids)
		assert.Equal(t, 50, fake.Reads("ownerOf"))
	})

	t.Run("zero balance skips the scan", func(t *testing.T) {
		fake := chaintest.NewFake()
		svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
		require.NoError(t, err)

		ids, err := svc.Discover(ctx, chaintest.DefaultAccount)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Zero(t, fake.Reads("ownerOf"))
	})

	t.Run("balance read fails", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetReadError("balanceOf", errors.New("rpc unavailable"))
		svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
		require.NoError(t, err)

		_, err = svc.Discover(ctx, chaintest.DefaultAccount)
		assert.ErrorContains(t, err, "failed to read balance")
	})
}

func TestPositions_GetCachesOnlyFinalPositions(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	fake.SetPosition(expiredPosition(1, models.StatusActive), chaintest.DefaultAccount, big.NewInt(0))
	fake.SetPosition(expiredPosition(2, models.StatusSettled), chaintest.DefaultAccount, big.NewInt(0))
	fake.SetPosition(expiredPosition(3, models.StatusSettled), chaintest.DefaultAccount, big.NewInt(4))

	svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for _, id := range []int64{1, 2, 3} {
			pos, err := svc.Get(ctx, big.NewInt(id))
			require.NoError(t, err)
			assert.Equal(t, id, pos.TokenID.Int64())
			assert.False(t, pos.ReadAt.IsZero())
		}
	}

	// ids 1 and 3 are read twice, id 2 once
	assert.Equal(t, 5, fake.Reads("getOption"))

	pos, err := svc.Get(ctx, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4), pos.PendingPayout)
	assert.True(t, pos.CanClaim())
}

func TestPositions_GetUnknownToken(t *testing.T) {
	fake := chaintest.NewFake()
	svc, err := NewPositionService(fake, nil, 50, 16, testLogger(), testMetrics())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), big.NewInt(404))
	assert.ErrorContains(t, err, "failed to read option 404")
}
