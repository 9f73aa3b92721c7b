package services

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"weather-options/internal/chain/chaintest"
	"weather-options/internal/config"
	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func testLogger() *logging.StructuredLogger {
	l := logging.NewStructuredLogger("weather-options-test", "test", logging.ErrorLevel)
	l.SetOutput(io.Discard)
	return l
}

func testMetrics() *metrics.Collector {
	return metrics.NewCollectorWith("test", prometheus.NewRegistry())
}

func fastFlowConfig() config.FlowConfig {
	return config.FlowConfig{
		QuoteTimeBuffer:   600 * time.Second,
		PollInterval:      10 * time.Millisecond,
		SuccessResetDelay: 50 * time.Millisecond,
		RefetchDelay:      10 * time.Millisecond,
		ScanLimit:         50,
		TermsCacheSize:    16,
	}
}

func newFlowService(t *testing.T, fake *chaintest.Fake) *OptionFlowService {
	t.Helper()
	svc := NewOptionFlowService(fake, nil, fastFlowConfig(), time.Second, testLogger(), testMetrics())
	t.Cleanup(svc.Close)
	require.NoError(t, svc.RefreshParams(context.Background()))
	return svc
}

func snapshot(t *testing.T, svc *OptionFlowService) FlowView {
	t.Helper()
	v, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	return v
}

func waitStep(t *testing.T, svc *OptionFlowService, step models.Step) FlowView {
	t.Helper()
	var v FlowView
	require.Eventually(t, func() bool {
		v = snapshot(t, svc)
		return v.Step == step
	}, waitFor, tick, "flow never reached %s", step)
	return v
}

// expiredPosition builds an option whose coverage ended an hour ago
func expiredPosition(id int64, status models.OptionStatus) *models.Position {
	now := uint64(time.Now().Unix())
	return &models.Position{
		TokenID: big.NewInt(id),
		Terms: models.OptionTerms{
			Kind:       models.OptionPut,
			Latitude:   "6.25",
			Longitude:  "-75.56",
			StartDate:  now - 4*models.SecondsPerDay,
			ExpiryDate: now - 3600,
			StrikeMM:   big.NewInt(100),
			SpreadMM:   big.NewInt(50),
			Notional:   big.NewInt(1e16),
			Premium:    big.NewInt(1e15),
		},
		State: models.OptionState{Status: status},
	}
}
