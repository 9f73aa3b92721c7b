package pricing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/models"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal " + s)
	}
	return v
}

func TestMaxPayout(t *testing.T) {
	assert.Equal(t, "500000000000000000", MaxPayout(wei("10000000000000000"), big.NewInt(50)).String())
	assert.Nil(t, MaxPayout(nil, big.NewInt(50)))
}

func TestProtocolFee(t *testing.T) {
	tests := []struct {
		name    string
		premium *big.Int
		bps     *big.Int
		want    string
	}{
		{name: "rounds down at boundary", premium: big.NewInt(1), bps: big.NewInt(1), want: "0"},
		{name: "exact", premium: big.NewInt(10000), bps: big.NewInt(250), want: "250"},
		{name: "floor", premium: big.NewInt(19999), bps: big.NewInt(1), want: "1"},
		{name: "unknown premium", premium: nil, bps: big.NewInt(100), want: "0"},
		{name: "unknown fee", premium: big.NewInt(100), bps: nil, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProtocolFee(tt.premium, tt.bps).String())
		})
	}
}

func TestTotalCost_IsPremiumPlusFee(t *testing.T) {
	for _, p := range []int64{1, 9999, 10000, 123456789} {
		for _, f := range []int64{0, 1, 100, 9999} {
			premium := big.NewInt(p)
			fee := ProtocolFee(premium, big.NewInt(f))
			total := TotalCost(premium, fee)

			diff := new(big.Int).Sub(total, premium)
			require.Equal(t, 0, diff.Cmp(fee), "premium=%d bps=%d", p, f)

			want := p + p*f/10000
			require.Equal(t, want, total.Int64(), "premium=%d bps=%d", p, f)
		}
	}

	assert.Equal(t, "0", TotalCost(nil, big.NewInt(5)).String())
}

func TestIsPremiumValid(t *testing.T) {
	assert.True(t, IsPremiumValid(nil, big.NewInt(10)))
	assert.True(t, IsPremiumValid(big.NewInt(10), nil))
	assert.True(t, IsPremiumValid(big.NewInt(10), big.NewInt(10)))
	assert.False(t, IsPremiumValid(big.NewInt(9), big.NewInt(10)))
}

func TestHasEnoughLiquidity(t *testing.T) {
	assert.False(t, HasEnoughLiquidity(big.NewInt(1), nil))
	assert.False(t, HasEnoughLiquidity(nil, big.NewInt(1)))
	assert.True(t, HasEnoughLiquidity(big.NewInt(5), big.NewInt(5)))
	assert.False(t, HasEnoughLiquidity(big.NewInt(6), big.NewInt(5)))
}

func TestDerive_FromDefaultForm(t *testing.T) {
	in := FromForm(models.DefaultFormParameters())
	in.Premium = wei("1000000000000000")
	in.ProtocolFeeBps = big.NewInt(200)
	in.MinPremium = wei("100000000000000")
	in.Available = wei("1000000000000000000")

	got := Derive(in)

	assert.Equal(t, "500000000000000000", got.MaxPayout.String())
	assert.Equal(t, "20000000000000", got.ProtocolFee.String())
	assert.Equal(t, "1020000000000000", got.TotalCost.String())
	assert.True(t, got.IsPremiumValid)
	assert.True(t, got.HasEnoughLiquidity)
}

func TestDerive_MaxPayoutIndependentOfPremium(t *testing.T) {
	in := FromForm(models.DefaultFormParameters())
	before := Derive(in).MaxPayout

	in.Premium = big.NewInt(42)
	in.ProtocolFeeBps = big.NewInt(500)
	after := Derive(in).MaxPayout

	assert.Equal(t, 0, before.Cmp(after))
}

func TestFormatAndParseEther(t *testing.T) {
	assert.Equal(t, "0.01", FormatEther(wei("10000000000000000")))
	assert.Equal(t, "1.5", FormatEther(wei("1500000000000000000")))
	assert.Equal(t, "", FormatEther(nil))

	v, err := ParseEther("0.25")
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", v.String())

	_, err = ParseEther("-1")
	assert.Error(t, err)
}
