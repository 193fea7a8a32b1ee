package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"csp-validator/interfaces"
	"csp-validator/models"
)

func fixedClock(s string) func() time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func waitSnapshot(t *testing.T, ch <-chan models.MarketData) models.MarketData {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return models.MarketData{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSyncBuildsChain(t *testing.T) {
	provider := &fakeProvider{
		price: 450,
		refs: []interfaces.ContractRef{
			// Unsorted, with a duplicate date and an already-expired one.
			{ExpirationDate: "2025-12-19", StrikePrice: 425, Ticker: "O:SPY251219P00425000"},
			{ExpirationDate: "2025-11-19", StrikePrice: 440, Ticker: "O:SPY251119P00440000"},
			{ExpirationDate: "2025-11-21", StrikePrice: 430, Ticker: "O:SPY251121P00430000"},
			{ExpirationDate: "2025-12-19", StrikePrice: 430, Ticker: "O:SPY251219P00430000"},
		},
	}
	svc := NewMarketDataService(provider, quietBus(), time.Hour).
		WithClock(fixedClock("2025-11-20T12:00:00Z"))
	defer svc.Close()

	ch := make(chan models.MarketData, 1)
	unsub := svc.Subscribe("spy", func(data models.MarketData) { ch <- data })
	defer unsub()

	data := waitSnapshot(t, ch)

	if data.Ticker != "SPY" {
		t.Errorf("expected normalized ticker SPY, got %q", data.Ticker)
	}
	if data.CurrentPrice != 450 {
		t.Errorf("expected price 450, got %v", data.CurrentPrice)
	}
	if len(data.Chain) != 2 {
		t.Fatalf("expected 2 expirations (expired one dropped), got %d", len(data.Chain))
	}
	if data.Chain[0].Date != "2025-11-21" || data.Chain[1].Date != "2025-12-19" {
		t.Errorf("expected chain sorted ascending by date, got %q, %q", data.Chain[0].Date, data.Chain[1].Date)
	}
	// 2025-11-21 00:00 UTC is 12h ahead of the clock: ceil(0.5d) = 1.
	if data.Chain[0].DaysToExpiration != 1 {
		t.Errorf("expected DTE 1 for 2025-11-21, got %d", data.Chain[0].DaysToExpiration)
	}
	// 2025-12-19 00:00 UTC is 28.5d ahead: ceil = 29.
	if data.Chain[1].DaysToExpiration != 29 {
		t.Errorf("expected DTE 29 for 2025-12-19, got %d", data.Chain[1].DaysToExpiration)
	}
	if len(data.Chain[1].Strikes) != 2 {
		t.Fatalf("expected both 2025-12-19 contracts attached, got %d", len(data.Chain[1].Strikes))
	}
	first := data.Chain[1].Strikes[0]
	if first.Bid != nil || first.Ask != nil || first.Last != nil {
		t.Error("quote fields must start unset")
	}
	if first.ContractID == "" {
		t.Error("contract identifier must be carried from the reference list")
	}
}

func TestSyncZeroPriceDoesNotPublish(t *testing.T) {
	provider := &fakeProvider{price: 0}
	bus := quietBus()
	svc := NewMarketDataService(provider, bus, time.Hour)
	defer svc.Close()

	published := make(chan models.MarketData, 1)
	unsub := svc.Subscribe("SPY", func(data models.MarketData) { published <- data })
	defer unsub()

	waitFor(t, "sync error on the bus", func() bool { return hasErrorEntry(bus) })

	select {
	case <-published:
		t.Fatal("a zero price must not publish a snapshot")
	default:
	}
	if _, ok := svc.Snapshot(); ok {
		t.Error("no snapshot should be cached after a failed sync")
	}
}

func TestSyncFailureKeepsPreviousSnapshot(t *testing.T) {
	provider := &fakeProvider{
		price: 450,
		refs:  []interfaces.ContractRef{{ExpirationDate: "2099-01-15", StrikePrice: 425, Ticker: "O:X"}},
	}
	bus := quietBus()
	svc := NewMarketDataService(provider, bus, 25*time.Millisecond)
	defer svc.Close()

	ch := make(chan models.MarketData, 8)
	unsub := svc.Subscribe("SPY", func(data models.MarketData) { ch <- data })
	defer unsub()

	first := waitSnapshot(t, ch)

	provider.set(func(p *fakeProvider) { p.refsErr = errors.New("rate limited") })
	waitFor(t, "failed refresh on the bus", func() bool { return hasErrorEntry(bus) })

	snapshot, ok := svc.Snapshot()
	if !ok {
		t.Fatal("previous snapshot must remain authoritative after a failed refresh")
	}
	if snapshot.LastUpdated != first.LastUpdated {
		// Later successful ticks may have republished, but the cached value
		// must never be cleared or partially mutated.
		if snapshot.CurrentPrice != 450 || len(snapshot.Chain) != 1 {
			t.Errorf("cached snapshot corrupted: %+v", snapshot)
		}
	}
}

func TestResubscribeDeliversCachedWithoutFetch(t *testing.T) {
	provider := &fakeProvider{
		price: 450,
		refs:  []interfaces.ContractRef{{ExpirationDate: "2099-01-15", StrikePrice: 425, Ticker: "O:X"}},
	}
	svc := NewMarketDataService(provider, quietBus(), time.Hour)
	defer svc.Close()

	ch := make(chan models.MarketData, 1)
	unsubA := svc.Subscribe("SPY", func(data models.MarketData) { ch <- data })
	defer unsubA()
	waitSnapshot(t, ch)

	priceBefore, contractsBefore, _, _ := provider.calls()

	var got *models.MarketData
	unsubB := svc.Subscribe("SPY", func(data models.MarketData) { got = &data })
	defer unsubB()

	// Delivery happens synchronously inside Subscribe.
	if got == nil {
		t.Fatal("second subscriber must receive the cached snapshot immediately")
	}
	if got.CurrentPrice != 450 {
		t.Errorf("cached snapshot price mismatch: %v", got.CurrentPrice)
	}

	priceAfter, contractsAfter, _, _ := provider.calls()
	if priceAfter != priceBefore || contractsAfter != contractsBefore {
		t.Error("re-subscribing to the active ticker must not trigger a network fetch")
	}
}

func TestUnsubscribeLastListenerStopsPolling(t *testing.T) {
	provider := &fakeProvider{
		price: 450,
		refs:  []interfaces.ContractRef{{ExpirationDate: "2099-01-15", StrikePrice: 425, Ticker: "O:X"}},
	}
	svc := NewMarketDataService(provider, quietBus(), 20*time.Millisecond)
	defer svc.Close()

	ch := make(chan models.MarketData, 8)
	unsub := svc.Subscribe("SPY", func(data models.MarketData) { ch <- data })
	waitSnapshot(t, ch)

	unsub()
	time.Sleep(50 * time.Millisecond) // let any in-flight tick settle
	priceBefore, _, _, _ := provider.calls()
	time.Sleep(100 * time.Millisecond)
	priceAfter, _, _, _ := provider.calls()

	if priceAfter != priceBefore {
		t.Errorf("polling must stop after the last listener unsubscribes: %d -> %d calls", priceBefore, priceAfter)
	}
}

func TestSubscribeNewTickerSupersedesActive(t *testing.T) {
	provider := &fakeProvider{
		price: 450,
		refs:  []interfaces.ContractRef{{ExpirationDate: "2099-01-15", StrikePrice: 425, Ticker: "O:X"}},
	}
	svc := NewMarketDataService(provider, quietBus(), time.Hour)
	defer svc.Close()

	chA := make(chan models.MarketData, 1)
	unsubA := svc.Subscribe("AAPL", func(data models.MarketData) { chA <- data })
	defer unsubA()
	waitSnapshot(t, chA)

	chB := make(chan models.MarketData, 1)
	unsubB := svc.Subscribe("TSLA", func(data models.MarketData) { chB <- data })
	defer unsubB()

	data := waitSnapshot(t, chB)
	if data.Ticker != "TSLA" {
		t.Errorf("expected immediate sync for the new ticker, got %q", data.Ticker)
	}

	snapshot, ok := svc.Snapshot()
	if !ok || snapshot.Ticker != "TSLA" {
		t.Errorf("cached snapshot should belong to the new active ticker, got %+v", snapshot)
	}
}

func TestBusEntriesCarryTimestampPrefix(t *testing.T) {
	bus := quietBus()
	bus.Logf("Syncing underlying price for %s...", "SPY")
	bus.Errorf("Metadata sync failed: %v", errors.New("boom"))

	entries := bus.Recent()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0], "[") || strings.Contains(entries[0], "ERROR:") {
		t.Errorf("unexpected info entry format: %q", entries[0])
	}
	if !strings.Contains(entries[1], "] ERROR: Metadata sync failed") {
		t.Errorf("error entries must carry the ERROR: marker: %q", entries[1])
	}
}
