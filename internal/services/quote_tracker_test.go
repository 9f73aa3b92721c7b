package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-options/internal/chain/chaintest"
	"weather-options/internal/models"
	"weather-options/pkg/logging"
)

func TestQuoteTracker_FailureLogging(t *testing.T) {
	ctx := context.Background()

	newLoggedService := func(t *testing.T, fake *chaintest.Fake) (*OptionFlowService, *bytes.Buffer) {
		t.Helper()
		var buf bytes.Buffer
		logger := logging.NewStructuredLogger("weather-options-test", "test", logging.WarnLevel)
		logger.SetOutput(&buf)

		svc := NewOptionFlowService(fake, nil, fastFlowConfig(), time.Second, logger, testMetrics())
		t.Cleanup(svc.Close)
		require.NoError(t, svc.RefreshParams(ctx))
		return svc, &buf
	}

	t.Run("abandoned request is silent", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.HoldReceipts()
		svc, buf := newLoggedService(t, fake)

		require.NoError(t, svc.RequestQuote(ctx))
		require.Eventually(t, func() bool { return len(fake.Calls("requestPremiumQuote")) == 1 }, waitFor, tick)
		require.NoError(t, svc.Reset(ctx))

		// Close waits for the abandoned receipt wait to return
		svc.Close()
		assert.NotContains(t, buf.String(), "[QUOTE_FAILED]")
	})

	t.Run("real failure is logged", func(t *testing.T) {
		fake := chaintest.NewFake()
		fake.SetSimulateError(errors.New("execution reverted: invalid dates"))
		svc, buf := newLoggedService(t, fake)

		require.NoError(t, svc.RequestQuote(ctx))
		require.Eventually(t, func() bool {
			return snapshot(t, svc).TrackerPhase == PhaseFailed
		}, waitFor, tick)

		svc.Close()
		assert.Contains(t, buf.String(), "[QUOTE_FAILED]")
		assert.Contains(t, buf.String(), string(models.KindSimulation))
	})
}
