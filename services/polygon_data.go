package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"csp-validator/interfaces"

	"github.com/sirupsen/logrus"
)

// PolygonDataService fetches market data from Polygon's REST API. All calls
// authenticate with an apiKey query parameter, which is what the free tier
// supports.
type PolygonDataService struct {
	apiKey  string
	baseURL string
	logger  *logrus.Logger
	client  *http.Client
}

// NewPolygonDataService creates a new Polygon market data service.
func NewPolygonDataService(apiKey string) *PolygonDataService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PolygonDataService{
		apiKey:  apiKey,
		baseURL: "https://api.polygon.io",
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the service at a different host. Used by tests.
func (s *PolygonDataService) WithBaseURL(baseURL string) *PolygonDataService {
	s.baseURL = baseURL
	return s
}

// polygonAggsResponse is the shape of /v2/aggs/ticker/{T}/prev.
type polygonAggsResponse struct {
	Results []struct {
		Close float64 `json:"c"`
	} `json:"results"`
}

// polygonContractsResponse is the shape of /v3/reference/options/contracts.
type polygonContractsResponse struct {
	Results []struct {
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
		Ticker         string  `json:"ticker"`
	} `json:"results"`
}

// polygonNBBOResponse is the shape of /v2/last/nbbo/{OPTION}.
type polygonNBBOResponse struct {
	Results struct {
		BidPrice float64 `json:"p"`
		AskPrice float64 `json:"P"`
	} `json:"results"`
}

// PreviousClose returns the underlying's most recent settled close.
func (s *PolygonDataService) PreviousClose(ctx context.Context, ticker string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true&apiKey=%s",
		s.baseURL, url.PathEscape(ticker), url.QueryEscape(s.apiKey))

	var aggs polygonAggsResponse
	if err := s.getJSON(ctx, endpoint, &aggs); err != nil {
		return 0, fmt.Errorf("previous close for %s: %w", ticker, err)
	}

	if len(aggs.Results) == 0 {
		return 0, nil
	}
	return aggs.Results[0].Close, nil
}

// PutContracts lists open, non-expired put contracts for an underlying.
func (s *PolygonDataService) PutContracts(ctx context.Context, underlying string) ([]interfaces.ContractRef, error) {
	endpoint := fmt.Sprintf("%s/v3/reference/options/contracts?underlying_ticker=%s&contract_type=put&expired=false&limit=1000&apiKey=%s",
		s.baseURL, url.QueryEscape(underlying), url.QueryEscape(s.apiKey))

	s.logger.WithField("underlying", underlying).Debug("Fetching put contract references")

	var contracts polygonContractsResponse
	if err := s.getJSON(ctx, endpoint, &contracts); err != nil {
		return nil, fmt.Errorf("put contracts for %s: %w", underlying, err)
	}

	refs := make([]interfaces.ContractRef, 0, len(contracts.Results))
	for _, c := range contracts.Results {
		refs = append(refs, interfaces.ContractRef{
			ExpirationDate: c.ExpirationDate,
			StrikePrice:    c.StrikePrice,
			Ticker:         c.Ticker,
		})
	}

	s.logger.WithField("count", len(refs)).Debug("Fetched put contract references")
	return refs, nil
}

// LastNBBO returns the latest real-time quote for an option contract. A bid
// of zero means the feed had nothing usable (restricted or closed), which the
// waterfall treats as a miss rather than a valid quote.
func (s *PolygonDataService) LastNBBO(ctx context.Context, optionTicker string) (interfaces.NBBOQuote, error) {
	endpoint := fmt.Sprintf("%s/v2/last/nbbo/%s?apiKey=%s",
		s.baseURL, url.PathEscape(optionTicker), url.QueryEscape(s.apiKey))

	var nbbo polygonNBBOResponse
	if err := s.getJSON(ctx, endpoint, &nbbo); err != nil {
		return interfaces.NBBOQuote{}, fmt.Errorf("nbbo for %s: %w", optionTicker, err)
	}

	return interfaces.NBBOQuote{
		Bid: nbbo.Results.BidPrice,
		Ask: nbbo.Results.AskPrice,
	}, nil
}

// OptionPreviousClose returns the previous settled close for the option
// contract itself.
func (s *PolygonDataService) OptionPreviousClose(ctx context.Context, optionTicker string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true&apiKey=%s",
		s.baseURL, url.PathEscape(optionTicker), url.QueryEscape(s.apiKey))

	var aggs polygonAggsResponse
	if err := s.getJSON(ctx, endpoint, &aggs); err != nil {
		return 0, fmt.Errorf("option previous close for %s: %w", optionTicker, err)
	}

	if len(aggs.Results) == 0 {
		return 0, fmt.Errorf("no previous close aggregate for %s", optionTicker)
	}
	return aggs.Results[0].Close, nil
}

func (s *PolygonDataService) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &interfaces.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
