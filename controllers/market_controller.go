package controllers

import (
	"net/http"

	"csp-validator/database"
	"csp-validator/services"

	"github.com/gin-gonic/gin"
)

// MarketController exposes the current snapshot and the event-bus feed.
type MarketController struct {
	session *services.ValidationSession
	bus     *services.EventBus
	storage *database.LocalStorage
}

// NewMarketController creates a new market controller.
func NewMarketController(session *services.ValidationSession, bus *services.EventBus, storage *database.LocalStorage) *MarketController {
	return &MarketController{
		session: session,
		bus:     bus,
		storage: storage,
	}
}

// HandleGetSnapshot returns the latest published market data.
func (mc *MarketController) HandleGetSnapshot(c *gin.Context) {
	snapshot, ok := mc.session.Snapshot()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no market data synced yet"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// HandleGetLogs returns the recent event-bus entries, oldest first.
func (mc *MarketController) HandleGetLogs(c *gin.Context) {
	entries := mc.bus.Recent()

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGetActivity returns persisted activity entries, newest first.
func (mc *MarketController) HandleGetActivity(c *gin.Context) {
	if mc.storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persistence disabled"})
		return
	}

	entries, err := mc.storage.RecentActivity(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
