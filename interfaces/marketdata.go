package interfaces

import (
	"context"
	"fmt"
)

// StatusError is a vendor response with a non-OK HTTP status: the transport
// worked, but the vendor refused or could not serve the request (rate limit,
// restricted endpoint, unknown symbol).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// ContractRef is one row of the vendor's option-contract reference list.
type ContractRef struct {
	ExpirationDate string  // ISO date, YYYY-MM-DD
	StrikePrice    float64
	Ticker         string // vendor option ticker
}

// NBBOQuote is a real-time best-bid/best-offer quote. Zero values mean the
// vendor had nothing (restricted access or market closed).
type NBBOQuote struct {
	Bid float64
	Ask float64
}

// MarketDataProvider is the vendor-facing surface the sync service and the
// quote fetcher depend on. The production implementation talks to Polygon's
// REST API; tests substitute fakes.
type MarketDataProvider interface {
	// PreviousClose returns the most recent settled close for a ticker.
	// A ticker with no data yields an error, not a zero price.
	PreviousClose(ctx context.Context, ticker string) (float64, error)

	// PutContracts lists open, non-expired put contracts for an underlying.
	PutContracts(ctx context.Context, underlying string) ([]ContractRef, error)

	// LastNBBO returns the latest real-time quote for an option contract.
	LastNBBO(ctx context.Context, optionTicker string) (NBBOQuote, error)

	// OptionPreviousClose returns the previous settled close for an option
	// contract itself, used as the tier-2 premium fallback.
	OptionPreviousClose(ctx context.Context, optionTicker string) (float64, error)
}

// EventSink receives operational and error notifications for display. Entries
// are timestamped strings; error entries carry an "ERROR:" marker that the
// display side keys its status banner on.
type EventSink interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
