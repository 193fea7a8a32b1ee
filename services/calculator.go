package services

import (
	"math"

	"csp-validator/models"
)

// Calculator derives CSP trade metrics from a market snapshot, user inputs
// and an optional quote overlay. It performs no I/O and holds no state.
type Calculator struct{}

// NewCalculator creates a calculation engine.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate produces the trade metrics for the nearest-strike contract of the
// selected expiration. It returns nil when no expiration is selected or the
// selected expiration has no contracts.
func (c *Calculator) Calculate(snapshot *models.MarketData, inputs models.TradeInputs, overlay *models.PartialQuote) *models.TradeCalculation {
	if snapshot == nil || inputs.SelectedDate == "" {
		return nil
	}

	expiration, ok := snapshot.Expiration(inputs.SelectedDate)
	if !ok || len(expiration.Strikes) == 0 {
		return nil
	}

	targetStrike := snapshot.CurrentPrice * (1 - inputs.TargetDiscount/100)
	selected := nearestStrike(expiration.Strikes, targetStrike)

	dte := expiration.DaysToExpiration
	strike := selected.Strike
	collateral := strike * 100
	requiredTotalCredit := collateral * (inputs.TargetAPY / 100) * (float64(dte) / 365)

	// Merge the overlay onto a copy; the chain stored in the snapshot is
	// never written to.
	merged := selected
	if overlay != nil {
		merged.Bid = overlay.Bid
		merged.Ask = overlay.Ask
		merged.Last = overlay.Last
	} else {
		merged.Bid = nil
		merged.Ask = nil
		merged.Last = nil
	}

	// Premium policy: prefer a realistic nonzero bid, then a nonzero last.
	// A fetched-but-zero bid counts as absent, same as nil.
	actualPremiumPerShare := 0.0
	switch {
	case merged.Bid != nil && *merged.Bid != 0:
		actualPremiumPerShare = *merged.Bid
	case merged.Last != nil && *merged.Last != 0:
		actualPremiumPerShare = *merged.Last
	}

	actualTotalCredit := actualPremiumPerShare * 100

	// Zero-DTE trades annualize to 0%, not to infinity.
	actualAPY := 0.0
	if dte > 0 && collateral > 0 {
		actualAPY = (actualTotalCredit / collateral) * (365 / float64(dte)) * 100
	}

	return &models.TradeCalculation{
		CalculatedStrike:      strike,
		Collateral:            collateral,
		DTE:                   dte,
		RequiredTotalCredit:   requiredTotalCredit,
		ActualTotalCredit:     actualTotalCredit,
		ActualAPY:             actualAPY,
		NetPurchasePrice:      strike - actualPremiumPerShare,
		IsTargetMet:           actualTotalCredit >= requiredTotalCredit && actualTotalCredit > 0,
		ActualPremiumPerShare: actualPremiumPerShare,
		Option:                merged,
	}
}

// nearestStrike scans for the contract minimizing |strike - target|. The
// strike list carries no ordering guarantee, and ties keep the earlier entry.
func nearestStrike(strikes []models.OptionContract, target float64) models.OptionContract {
	best := strikes[0]
	bestDist := math.Abs(best.Strike - target)
	for _, c := range strikes[1:] {
		if d := math.Abs(c.Strike - target); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}
