package services

import (
	"context"
	"sync"

	"csp-validator/models"
)

// QuoteSource is the fetcher surface the session depends on. Production uses
// *QuoteFetcher; tests substitute fakes.
type QuoteSource interface {
	FetchContractQuote(ctx context.Context, contractID string) models.PartialQuote
}

// ValidationStore persists computed results. Nil-able collaborator.
type ValidationStore interface {
	SaveValidation(inputs models.TradeInputs, calc *models.TradeCalculation) error
}

// ValidationSession holds one user's trade inputs, the latest market
// snapshot, the active quote overlay and the derived calculation. Every input
// or snapshot change re-derives the calculation; selection, discount and
// snapshot changes additionally refresh the quote for the nearest-strike
// contract.
//
// Each quote refresh carries a monotonically increasing generation. A
// response whose generation is no longer the latest is discarded, so a slow
// fetch can never overwrite the overlay for a newer selection.
type ValidationSession struct {
	market  *MarketDataService
	fetcher QuoteSource
	calc    *Calculator
	store   ValidationStore

	mu          sync.Mutex
	inputs      models.TradeInputs
	snapshot    *models.MarketData
	quote       *models.PartialQuote
	quoteGen    uint64
	current     *models.TradeCalculation
	unsubscribe func()
}

// NewValidationSession creates a session with the given defaults. store may
// be nil when persistence is disabled.
func NewValidationSession(market *MarketDataService, fetcher QuoteSource, store ValidationStore, defaults models.TradeInputs) *ValidationSession {
	s := &ValidationSession{
		market:  market,
		fetcher: fetcher,
		calc:    NewCalculator(),
		store:   store,
		inputs:  defaults,
	}
	if defaults.Ticker != "" {
		s.SetTicker(defaults.Ticker)
	}
	return s
}

// SetTicker switches the session to a new underlying. The expiration
// selection, snapshot and overlay all belong to the old chain and are reset.
func (s *ValidationSession) SetTicker(ticker string) {
	ticker = models.NormalizeTicker(ticker)

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.inputs.Ticker = ticker
	s.inputs.SelectedDate = ""
	s.snapshot = nil
	s.quote = nil
	s.quoteGen++ // orphan any in-flight fetch
	s.current = nil
	s.mu.Unlock()

	unsub := s.market.Subscribe(ticker, s.onSnapshot)

	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()
}

// SetTargets updates the APY and discount targets. A discount change moves
// the target strike, so the quote is refreshed as well.
func (s *ValidationSession) SetTargets(targetAPY, targetDiscount float64) {
	s.mu.Lock()
	discountChanged := s.inputs.TargetDiscount != targetDiscount
	s.inputs.TargetAPY = targetAPY
	s.inputs.TargetDiscount = targetDiscount
	s.recomputeLocked()
	s.mu.Unlock()

	if discountChanged {
		s.refreshQuote()
	}
}

// SelectExpiration picks an expiration date from the current chain.
func (s *ValidationSession) SelectExpiration(date string) {
	s.mu.Lock()
	s.inputs.SelectedDate = date
	s.quote = nil
	s.recomputeLocked()
	s.mu.Unlock()

	s.refreshQuote()
}

// Inputs returns the current trade inputs.
func (s *ValidationSession) Inputs() models.TradeInputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

// Calculation returns the current derivation, or false when preconditions
// (snapshot, selection, contracts) are missing.
func (s *ValidationSession) Calculation() (models.TradeCalculation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.TradeCalculation{}, false
	}
	return *s.current, true
}

// Snapshot returns the latest market data seen by the session.
func (s *ValidationSession) Snapshot() (models.MarketData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return models.MarketData{}, false
	}
	return *s.snapshot, true
}

// Close detaches the session from the market data service.
func (s *ValidationSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.quoteGen++
}

func (s *ValidationSession) onSnapshot(data models.MarketData) {
	s.mu.Lock()
	if data.Ticker != s.inputs.Ticker {
		s.mu.Unlock()
		return
	}
	s.snapshot = &data
	s.recomputeLocked()
	s.mu.Unlock()

	s.refreshQuote()
}

// refreshQuote resolves the nearest-strike contract for the current inputs
// and fetches its quote in the background. The captured generation decides
// whether the response is still wanted when it lands.
func (s *ValidationSession) refreshQuote() {
	s.mu.Lock()
	contractID := s.targetContractLocked()
	if contractID == "" {
		s.mu.Unlock()
		return
	}
	s.quoteGen++
	gen := s.quoteGen
	s.mu.Unlock()

	go func() {
		quote := s.fetcher.FetchContractQuote(context.Background(), contractID)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.quoteGen {
			// A newer selection superseded this fetch.
			return
		}
		s.quote = &quote
		s.recomputeLocked()
	}()
}

// targetContractLocked returns the contract identifier the quote refresh
// should target, or "" when there is nothing to fetch.
func (s *ValidationSession) targetContractLocked() string {
	if s.snapshot == nil || s.inputs.SelectedDate == "" {
		return ""
	}
	expiration, ok := s.snapshot.Expiration(s.inputs.SelectedDate)
	if !ok || len(expiration.Strikes) == 0 {
		return ""
	}
	targetStrike := s.snapshot.CurrentPrice * (1 - s.inputs.TargetDiscount/100)
	return nearestStrike(expiration.Strikes, targetStrike).ContractID
}

func (s *ValidationSession) recomputeLocked() {
	s.current = s.calc.Calculate(s.snapshot, s.inputs, s.quote)
	if s.current != nil && s.store != nil {
		// Persistence is best-effort; a storage failure never disturbs the
		// derivation.
		_ = s.store.SaveValidation(s.inputs, s.current)
	}
}
