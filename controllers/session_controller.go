package controllers

import (
	"net/http"

	"csp-validator/database"
	"csp-validator/services"

	"github.com/gin-gonic/gin"
)

// SessionController drives the validation session over HTTP: ticker, targets
// and expiration selection go in, the derived calculation comes out.
type SessionController struct {
	session *services.ValidationSession
	storage *database.LocalStorage
}

// NewSessionController creates a new session controller.
func NewSessionController(session *services.ValidationSession, storage *database.LocalStorage) *SessionController {
	return &SessionController{
		session: session,
		storage: storage,
	}
}

// HandleSetTicker switches the session to a new underlying. The expiration
// selection is reset because it belongs to the old chain.
func (sc *SessionController) HandleSetTicker(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sc.session.SetTicker(req.Ticker)

	c.JSON(http.StatusOK, gin.H{"inputs": sc.session.Inputs()})
}

// HandleSetTargets updates the APY and discount targets.
func (sc *SessionController) HandleSetTargets(c *gin.Context) {
	var req struct {
		TargetAPY      *float64 `json:"targetAPY" binding:"required"`
		TargetDiscount *float64 `json:"targetDiscount" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sc.session.SetTargets(*req.TargetAPY, *req.TargetDiscount)

	c.JSON(http.StatusOK, gin.H{"inputs": sc.session.Inputs()})
}

// HandleSelectExpiration picks an expiration date from the current chain.
func (sc *SessionController) HandleSelectExpiration(c *gin.Context) {
	var req struct {
		Date string `json:"date" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sc.session.SelectExpiration(req.Date)

	c.JSON(http.StatusOK, gin.H{"inputs": sc.session.Inputs()})
}

// HandleGetSession returns the current inputs and, when available, the
// derived calculation.
func (sc *SessionController) HandleGetSession(c *gin.Context) {
	resp := gin.H{"inputs": sc.session.Inputs()}

	if calc, ok := sc.session.Calculation(); ok {
		resp["calculation"] = calc
	}

	c.JSON(http.StatusOK, resp)
}

// HandleGetValidations returns persisted validation results, newest first.
func (sc *SessionController) HandleGetValidations(c *gin.Context) {
	if sc.storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persistence disabled"})
		return
	}

	rows, err := sc.storage.RecentValidations(c.Query("ticker"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"validations": rows,
		"count":       len(rows),
	})
}
