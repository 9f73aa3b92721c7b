package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/chain/chaintest"
	"weather-options/internal/models"
)

func newVault(t *testing.T, fake *chaintest.Fake) *VaultService {
	t.Helper()
	svc := NewVaultService(fake, nil, 10*time.Millisecond, time.Second, testLogger(), testMetrics())
	t.Cleanup(svc.Close)
	return svc
}

func TestVault_Reads(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	fake.SetVault(&models.VaultMetrics{TVL: ether(50), Available: ether(30)}, ether(2), ether(2), ether(1), big.NewInt(0))
	svc := newVault(t, fake)

	m, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, ether(30), m.Available)

	pos, err := svc.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, chaintest.DefaultAccount, pos.Account)
	assert.Equal(t, ether(2), pos.Shares)
	assert.Equal(t, ether(1), pos.WETHBalance)
	assert.True(t, pos.NeedsApproval(ether(1)))
}

func TestVault_DepositNeedsAllowance(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	fake.SetVault(&models.VaultMetrics{}, big.NewInt(0), big.NewInt(0), ether(1), big.NewInt(1e17))
	svc := newVault(t, fake)

	_, err := svc.Deposit(ctx, "0.5")
	assert.ErrorIs(t, err, models.ErrActionDisabled)
	assert.Empty(t, fake.Calls("deposit"))
	assert.False(t, svc.Status().Pending[models.ActionDeposit])

	_, err = svc.Approve(ctx, "0.5")
	require.NoError(t, err)
	approvals := fake.Calls("approve")
	require.Len(t, approvals, 1)
	assert.Equal(t, chaintest.DefaultAddresses.Vault, approvals[0].Args[0])
	assert.Equal(t, big.NewInt(5e17), approvals[0].Args[1])

	fake.SetVault(&models.VaultMetrics{}, big.NewInt(0), big.NewInt(0), ether(1), big.NewInt(5e17))
	_, err = svc.Deposit(ctx, "0.5")
	require.NoError(t, err)
	deposits := fake.Calls("deposit")
	require.Len(t, deposits, 1)
	assert.Equal(t, big.NewInt(5e17), deposits[0].Args[0])
	assert.Equal(t, chaintest.DefaultAccount, deposits[0].Args[1])
}

func TestVault_WrapAndWithdraw(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	svc := newVault(t, fake)

	_, err := svc.Wrap(ctx, "1.25")
	require.NoError(t, err)
	wraps := fake.Calls("wrap")
	require.Len(t, wraps, 1)
	assert.Equal(t, big.NewInt(125e16), wraps[0].Value)

	_, err = svc.Withdraw(ctx, "0.1")
	require.NoError(t, err)
	withdrawals := fake.Calls("withdraw")
	require.Len(t, withdrawals, 1)
	assert.Equal(t, []interface{}{big.NewInt(1e17), chaintest.DefaultAccount, chaintest.DefaultAccount}, withdrawals[0].Args)

	// confirmed actions trigger a re-read
	require.Eventually(t, func() bool {
		st := svc.Status()
		return st.Metrics != nil && st.Position != nil && !st.Pending[models.ActionWithdraw]
	}, waitFor, tick)
}

func TestVault_PendingPerAction(t *testing.T) {
	ctx := context.Background()
	fake := chaintest.NewFake()
	svc := newVault(t, fake)
	fake.HoldReceipts()

	_, err := svc.Withdraw(ctx, "1")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, "1")
	assert.ErrorIs(t, err, models.ErrActionDisabled)
	_, err = svc.Wrap(ctx, "1")
	require.NoError(t, err)

	st := svc.Status()
	assert.True(t, st.Pending[models.ActionWithdraw])
	assert.True(t, st.Pending[models.ActionWrap])
	assert.False(t, st.Pending[models.ActionDeposit])

	fake.ReleaseReceipts()
	require.Eventually(t, func() bool {
		st := svc.Status()
		return !st.Pending[models.ActionWithdraw] && !st.Pending[models.ActionWrap]
	}, waitFor, tick)
}

func TestVault_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid amounts", func(t *testing.T) {
		fake := chaintest.NewFake()
		svc := newVault(t, fake)

		for _, amount := range []string{"abc", "-1", "0", "0.0000000000000000001"} {
			_, err := svc.Wrap(ctx, amount)
			var ve *models.ValidationError
			assert.ErrorAs(t, err, &ve, amount)
		}
		assert.Empty(t, fake.Calls(""))
	})

	t.Run("not connected", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetAccount(common.Address{}, false)
		svc := newVault(t, fake)

		_, err := svc.Withdraw(ctx, "1")
		assert.ErrorIs(t, err, models.ErrNotConnected)
		_, err = svc.Position(ctx)
		assert.ErrorIs(t, err, models.ErrNotConnected)
	})

	t.Run("reverted", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetReverted("wrap", true)
		svc := newVault(t, fake)

		_, err := svc.Wrap(ctx, "1")
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			st := svc.Status()
			return st.LastError != nil && st.LastError.Kind == models.KindReverted
		}, waitFor, tick)
	})
}
