package controllers

import (
	"net/http"

	"csp-validator/services"

	"github.com/gin-gonic/gin"
)

// InsightController exposes the Gemini risk commentary for the current trade.
type InsightController struct {
	session *services.ValidationSession
	insight *services.InsightService
}

// NewInsightController creates a new insight controller.
func NewInsightController(session *services.ValidationSession, insight *services.InsightService) *InsightController {
	return &InsightController{
		session: session,
		insight: insight,
	}
}

// HandleAnalyzeRisk returns free-text commentary for the current calculation.
// The insight service degrades to fixed fallback text, so this endpoint never
// fails once a calculation exists.
func (ic *InsightController) HandleAnalyzeRisk(c *gin.Context) {
	calc, ok := ic.session.Calculation()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no calculation available - select an expiration first"})
		return
	}

	snapshot, ok := ic.session.Snapshot()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no market data synced yet"})
		return
	}

	analysis := ic.insight.AnalyzeTradeRisk(ic.session.Inputs(), calc, snapshot.CurrentPrice)

	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}
