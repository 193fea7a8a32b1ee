package services

import (
	"context"
	"errors"

	"csp-validator/interfaces"
	"csp-validator/models"
)

// QuoteFetcher resolves a best-effort premium for a single option contract
// using a tiered waterfall: real-time NBBO first, previous close second. It is
// stateless and safe to invoke concurrently for distinct contracts.
type QuoteFetcher struct {
	provider interfaces.MarketDataProvider
	bus      interfaces.EventSink
}

// NewQuoteFetcher creates a waterfall quote fetcher.
func NewQuoteFetcher(provider interfaces.MarketDataProvider, bus interfaces.EventSink) *QuoteFetcher {
	return &QuoteFetcher{
		provider: provider,
		bus:      bus,
	}
}

// FetchContractQuote runs the waterfall for one contract. An empty result
// means "no quote available"; failures never propagate to the caller.
//
// Tier 1 returns last equal to the real-time bid, not the ask or a trade
// price. The premium-selection policy downstream depends on that, so it is
// kept as-is.
func (f *QuoteFetcher) FetchContractQuote(ctx context.Context, contractID string) models.PartialQuote {
	f.bus.Logf("Attempting NBBO quote for %s...", contractID)

	nbbo, err := f.provider.LastNBBO(ctx, contractID)
	if err != nil {
		// A vendor refusal (e.g. 403 NOT_AUTHORIZED on restricted plans) is
		// the normal tier-1 outcome on free-tier access and behaves like a
		// zero bid. Only a transport failure aborts the waterfall.
		var statusErr *interfaces.StatusError
		if !errors.As(err, &statusErr) {
			f.bus.Errorf("Quote fetch failed for %s: %v", contractID, err)
			return models.PartialQuote{}
		}
		nbbo = interfaces.NBBOQuote{}
	}

	// A zero bid means the real-time feed is restricted or the market is
	// closed, not a tradable zero premium. Fall back to the previous close.
	if nbbo.Bid == 0 {
		f.bus.Logf("NBBO restricted/zero. Falling back to Prev Close for %s...", contractID)

		prevClose, err := f.provider.OptionPreviousClose(ctx, contractID)
		if err != nil {
			f.bus.Errorf("Quote fetch failed for %s: %v", contractID, err)
			return models.PartialQuote{}
		}

		f.bus.Logf("Found Prev Close: $%.2f", prevClose)
		// The close stands in for bid, ask and last uniformly.
		return models.PartialQuote{
			Bid:  &prevClose,
			Ask:  &prevClose,
			Last: &prevClose,
		}
	}

	bid, ask, last := nbbo.Bid, nbbo.Ask, nbbo.Bid
	return models.PartialQuote{
		Bid:  &bid,
		Ask:  &ask,
		Last: &last,
	}
}
