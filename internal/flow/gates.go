package flow

import (
	"weather-options/internal/models"
	"weather-options/internal/pricing"
)

// CanRequestQuote: disabled while the tracker is mid-request or the pool cannot cover the max payout
func CanRequestQuote(s State, trackerBusy bool, fig pricing.Figures) bool {
	return s.Step == models.StepForm && !trackerBusy && fig.HasEnoughLiquidity
}

// CanConfirm: disabled while a create transaction is pending or the premium is below the floor
func CanConfirm(s State, fig pricing.Figures) bool {
	if s.Step != models.StepReview || s.CreateStatus == CreateStatusPending {
		return false
	}
	return fig.IsPremiumValid && fig.TotalCost != nil && fig.TotalCost.Sign() > 0
}
