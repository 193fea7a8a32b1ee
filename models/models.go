package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// NormalizeTicker uppercases and trims a user-supplied symbol. The normalized
// form is the subscription key everywhere in the service.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// OptionContract is a single put contract in the chain. Strike and ContractID
// are fixed by the metadata sync; the quote fields stay nil until a quote has
// been fetched for this specific contract.
type OptionContract struct {
	Strike     float64  `json:"strike"`
	Bid        *float64 `json:"bid"`
	Ask        *float64 `json:"ask"`
	Last       *float64 `json:"last"`
	Volume     *float64 `json:"vol"`
	OpenInt    *float64 `json:"oi"`
	Delta      *float64 `json:"delta"`
	Theta      *float64 `json:"theta"`
	ContractID string   `json:"ticker"` // vendor option ticker, e.g. "O:SPY251219P00425000"
}

// ExpirationDate groups the contracts expiring on one calendar date.
// Strikes carries no ordering guarantee.
type ExpirationDate struct {
	Date             string           `json:"date"` // ISO date, YYYY-MM-DD
	DaysToExpiration int              `json:"daysToExpiration"`
	Strikes          []OptionContract `json:"strikes"`
}

// MarketData is one atomic snapshot of the chain for a ticker. A new snapshot
// replaces the previous one wholesale; it is never mutated in place.
type MarketData struct {
	Ticker       string           `json:"ticker"`
	CurrentPrice float64          `json:"currentPrice"`
	LastUpdated  time.Time        `json:"lastUpdated"`
	Chain        []ExpirationDate `json:"chain"` // ascending by date string
}

// Expiration returns the chain entry for the given date, if present.
func (m *MarketData) Expiration(date string) (ExpirationDate, bool) {
	for _, exp := range m.Chain {
		if exp.Date == date {
			return exp, true
		}
	}
	return ExpirationDate{}, false
}

// PartialQuote is the result of a waterfall quote fetch. Any field may be
// absent when the vendor had nothing usable.
type PartialQuote struct {
	Bid  *float64 `json:"bid"`
	Ask  *float64 `json:"ask"`
	Last *float64 `json:"last"`
}

// Empty reports whether the fetch produced no data at all.
func (q PartialQuote) Empty() bool {
	return q.Bid == nil && q.Ask == nil && q.Last == nil
}

// TradeInputs are the user-controlled parameters of a validation session.
// SelectedDate is empty until the user picks an expiration, and must be reset
// whenever the ticker changes.
type TradeInputs struct {
	Ticker         string  `json:"ticker"`
	TargetAPY      float64 `json:"targetAPY"`      // percent, e.g. 15
	TargetDiscount float64 `json:"targetDiscount"` // percent, e.g. 5
	SelectedDate   string  `json:"selectedDate"`   // "" = no selection
}

// TradeCalculation is the derived result for one candidate CSP trade. It is
// recomputed from scratch on every relevant change and never mutated in place.
type TradeCalculation struct {
	CalculatedStrike      float64        `json:"calculatedStrike"`
	Collateral            float64        `json:"collateral"`
	DTE                   int            `json:"dte"`
	RequiredTotalCredit   float64        `json:"requiredTotalCredit"`
	ActualTotalCredit     float64        `json:"actualTotalCredit"`
	ActualAPY             float64        `json:"actualAPY"`
	NetPurchasePrice      float64        `json:"netPurchasePrice"`
	IsTargetMet           bool           `json:"isTargetMet"`
	ActualPremiumPerShare float64        `json:"actualPremiumPerShare"`
	Option                OptionContract `json:"option"`
}

// DBValidation is a persisted validation result for later review.
type DBValidation struct {
	gorm.Model
	Ticker              string `gorm:"index"`
	ExpirationDate      string
	Strike              float64
	DTE                 int
	TargetAPY           float64
	TargetDiscount      float64
	RequiredTotalCredit float64
	ActualTotalCredit   float64
	ActualAPY           float64
	NetPurchasePrice    float64
	TargetMet           bool `gorm:"index"`
	ComputedAt          time.Time
}

// DBActivityEntry is a persisted line from the event bus.
type DBActivityEntry struct {
	gorm.Model
	Ticker   string `gorm:"index"`
	Message  string
	IsError  bool `gorm:"index"`
	LoggedAt time.Time
}

// TableName overrides for cleaner table names
func (DBValidation) TableName() string {
	return "validations"
}

func (DBActivityEntry) TableName() string {
	return "activity_entries"
}
