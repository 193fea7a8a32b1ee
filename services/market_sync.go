package services

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"csp-validator/interfaces"
	"csp-validator/models"
)

// MarketCallback receives a published market snapshot.
type MarketCallback func(data models.MarketData)

// MarketDataService owns per-ticker subscriptions, the single polling timer
// and the metadata synchronization cycle. At most one ticker is polled at a
// time: subscribing to a new ticker supersedes the previous one, and the
// timer stops once the last listener is gone.
type MarketDataService struct {
	provider     interfaces.MarketDataProvider
	bus          interfaces.EventSink
	pollInterval time.Duration
	now          func() time.Time

	mu           sync.Mutex
	subscribers  map[string]map[int]MarketCallback
	nextID       int
	activeTicker string
	cancelPoll   context.CancelFunc
	lastSnapshot *models.MarketData
}

// NewMarketDataService creates a sync service polling at the given interval.
// The clock is injectable so tests can pin DTE arithmetic.
func NewMarketDataService(provider interfaces.MarketDataProvider, bus interfaces.EventSink, pollInterval time.Duration) *MarketDataService {
	return &MarketDataService{
		provider:     provider,
		bus:          bus,
		pollInterval: pollInterval,
		now:          time.Now,
		subscribers:  make(map[string]map[int]MarketCallback),
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *MarketDataService) WithClock(now func() time.Time) *MarketDataService {
	s.now = now
	return s
}

// Subscribe registers a listener for a ticker and returns an unsubscribe
// func. Subscribing to a ticker other than the active one cancels the current
// poll loop and synchronizes the new ticker immediately. Subscribing to the
// active ticker delivers the cached snapshot synchronously, with no new
// network round-trip.
func (s *MarketDataService) Subscribe(ticker string, cb MarketCallback) func() {
	ticker = models.NormalizeTicker(ticker)

	s.mu.Lock()
	if s.subscribers[ticker] == nil {
		s.subscribers[ticker] = make(map[int]MarketCallback)
	}
	id := s.nextID
	s.nextID++
	s.subscribers[ticker][id] = cb

	var cached *models.MarketData
	if s.activeTicker != ticker {
		s.activeTicker = ticker
		s.lastSnapshot = nil
		s.startPollingLocked(ticker)
	} else if s.lastSnapshot != nil {
		cached = s.lastSnapshot
	}
	s.mu.Unlock()

	if cached != nil {
		cb(*cached)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		subs := s.subscribers[ticker]
		if subs == nil {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(s.subscribers, ticker)
			if len(s.subscribers) == 0 {
				s.stopPollingLocked()
			}
		}
	}
}

// Snapshot returns the last published market data, if any.
func (s *MarketDataService) Snapshot() (models.MarketData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSnapshot == nil {
		return models.MarketData{}, false
	}
	return *s.lastSnapshot, true
}

// Close stops polling and drops all subscriptions.
func (s *MarketDataService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = make(map[string]map[int]MarketCallback)
	s.stopPollingLocked()
}

func (s *MarketDataService) startPollingLocked(ticker string) {
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	go s.pollLoop(ctx, ticker)
}

func (s *MarketDataService) stopPollingLocked() {
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	s.activeTicker = ""
}

// pollLoop refreshes metadata immediately on activation, then on every tick.
func (s *MarketDataService) pollLoop(ctx context.Context, ticker string) {
	s.syncMetadata(ctx, ticker)

	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.syncMetadata(ctx, ticker)
		}
	}
}

// syncMetadata produces one MarketData snapshot for the ticker. Any failure
// is logged and leaves the previously published snapshot authoritative; the
// next scheduled tick is the only retry.
func (s *MarketDataService) syncMetadata(ctx context.Context, ticker string) {
	s.bus.Logf("Syncing underlying price for %s...", ticker)

	price, err := s.provider.PreviousClose(ctx, ticker)
	if err != nil {
		s.bus.Errorf("Metadata sync failed: %v", err)
		return
	}
	// A zero close is indistinguishable from "not found" and is treated as
	// absent data.
	if price == 0 {
		s.bus.Errorf("Metadata sync failed: could not find underlying price for %s", ticker)
		return
	}

	s.bus.Logf("Mapping expiration dates for %s...", ticker)

	refs, err := s.provider.PutContracts(ctx, ticker)
	if err != nil {
		s.bus.Errorf("Metadata sync failed: %v", err)
		return
	}
	if len(refs) == 0 {
		s.bus.Errorf("Metadata sync failed: no option contracts found for %s", ticker)
		return
	}

	syncTime := s.now()
	chain := buildChain(refs, syncTime)

	snapshot := models.MarketData{
		Ticker:       ticker,
		CurrentPrice: price,
		LastUpdated:  syncTime,
		Chain:        chain,
	}

	s.mu.Lock()
	// The active ticker may have changed while this cycle was in flight.
	if s.activeTicker != ticker {
		s.mu.Unlock()
		return
	}
	s.lastSnapshot = &snapshot
	cbs := make([]MarketCallback, 0, len(s.subscribers[ticker]))
	for _, cb := range s.subscribers[ticker] {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(snapshot)
	}
	s.bus.Logf("Metadata sync complete.")
}

// buildChain groups contract references into expiration buckets. The first
// contract seen for a date fixes that date's DTE; dates already expired at
// sync time are dropped rather than clamped to zero.
func buildChain(refs []interfaces.ContractRef, syncTime time.Time) []models.ExpirationDate {
	dteByDate := make(map[string]int)
	for _, ref := range refs {
		if _, seen := dteByDate[ref.ExpirationDate]; seen {
			continue
		}
		expTime, err := time.Parse("2006-01-02", ref.ExpirationDate)
		if err != nil {
			continue
		}
		dte := int(math.Ceil(expTime.Sub(syncTime).Hours() / 24))
		if dte >= 0 {
			dteByDate[ref.ExpirationDate] = dte
		}
	}

	dates := make([]string, 0, len(dteByDate))
	for date := range dteByDate {
		dates = append(dates, date)
	}
	// Lexicographic order equals chronological order for ISO dates.
	sort.Strings(dates)

	index := make(map[string]int, len(dates))
	chain := make([]models.ExpirationDate, len(dates))
	for i, date := range dates {
		chain[i] = models.ExpirationDate{
			Date:             date,
			DaysToExpiration: dteByDate[date],
		}
		index[date] = i
	}

	for _, ref := range refs {
		i, ok := index[ref.ExpirationDate]
		if !ok {
			continue
		}
		chain[i].Strikes = append(chain[i].Strikes, models.OptionContract{
			Strike:     ref.StrikePrice,
			ContractID: ref.Ticker,
		})
	}

	return chain
}
