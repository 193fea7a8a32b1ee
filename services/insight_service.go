package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"csp-validator/models"
)

// Fallback strings shown when no commentary can be produced. The caller
// renders these verbatim instead of surfacing an error.
const (
	insightNotConfigured = "Gemini API Key not configured. Unable to fetch analysis."
	insightUnavailable   = "Unable to generate analysis at this time."
	insightEmpty         = "No analysis generated."
)

// InsightService wraps the single Gemini request/response used for free-text
// risk commentary on a computed trade. No algorithmic content lives here.
type InsightService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewInsightService creates a Gemini-backed insight service. An empty apiKey
// leaves the service unconfigured; AnalyzeTradeRisk then returns a fixed
// fallback message.
func NewInsightService(apiKey string) *InsightService {
	return &InsightService{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		model:   "gemini-2.5-flash",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithBaseURL points the service at a different host. Used by tests.
func (gs *InsightService) WithBaseURL(baseURL string) *InsightService {
	gs.baseURL = baseURL
	return gs
}

// geminiRequest represents a request to the Gemini API
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiResponse represents the response from the Gemini API
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// AnalyzeTradeRisk asks for a concise risk assessment of the computed trade.
// It always returns displayable text, never an error.
func (gs *InsightService) AnalyzeTradeRisk(inputs models.TradeInputs, calc models.TradeCalculation, currentPrice float64) string {
	if gs.apiKey == "" {
		return insightNotConfigured
	}

	verdict := "Target Missed."
	if calc.IsTargetMet {
		verdict = "Target Met."
	}

	prompt := fmt.Sprintf(`You are a senior financial risk analyst. Provide a concise risk assessment (max 100 words) for the following Cash-Secured Put (CSP) trade.

Ticker: %s
Current Price: $%.2f

Trade Details:
- Strike Price: $%g
- Expiration (DTE): %d days
- Target Discount: %g%%
- Collateral: $%g
- Premium Received: $%g
- Annualized Return (APY): %.2f%%

Target APY was %g%%. %s

Assess the downside risk, the quality of the premium relative to the risk, and the buffer against a drop. Be direct.`,
		inputs.Ticker, currentPrice,
		calc.CalculatedStrike, calc.DTE, inputs.TargetDiscount,
		calc.Collateral, calc.ActualTotalCredit, calc.ActualAPY,
		inputs.TargetAPY, verdict)

	text, err := gs.generateContent(prompt)
	if err != nil {
		return insightUnavailable
	}
	if text == "" {
		return insightEmpty
	}
	return text
}

// generateContent calls the Gemini API
func (gs *InsightService) generateContent(prompt string) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		gs.baseURL, gs.model, gs.apiKey)

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Parts: []geminiPart{
					{Text: prompt},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}

	return geminiResp.Candidates[0].Content.Parts[0].Text, nil
}
