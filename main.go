package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csp-validator/config"
	"csp-validator/controllers"
	"csp-validator/database"
	"csp-validator/models"
	"csp-validator/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	cfg := config.Load()
	if cfg.PolygonAPIKey == "" {
		logger.Fatal("POLYGON_API_KEY is required")
	}

	bus := services.NewEventBus()

	var storage *database.LocalStorage
	if s, err := database.NewLocalStorage(cfg.DBPath); err != nil {
		logger.WithError(err).Warn("Persistence disabled")
	} else {
		storage = s
	}

	provider := services.NewPolygonDataService(cfg.PolygonAPIKey)
	market := services.NewMarketDataService(provider, bus, cfg.PollInterval)
	fetcher := services.NewQuoteFetcher(provider, bus)
	insight := services.NewInsightService(cfg.GeminiAPIKey)

	var store services.ValidationStore
	if storage != nil {
		store = storage
	}
	session := services.NewValidationSession(market, fetcher, store, models.TradeInputs{
		Ticker:         cfg.DefaultTicker,
		TargetAPY:      cfg.DefaultTargetAPY,
		TargetDiscount: cfg.DefaultTargetDiscount,
	})

	// Mirror every event-bus entry into the activity table.
	if storage != nil {
		bus.Subscribe(func(entry string) {
			_ = storage.SaveActivityEntry(session.Inputs().Ticker, entry)
		})
	}

	marketController := controllers.NewMarketController(session, bus, storage)
	sessionController := controllers.NewSessionController(session, storage)
	insightController := controllers.NewInsightController(session, insight)

	router := gin.Default()
	api := router.Group("/api")
	{
		api.GET("/market/snapshot", marketController.HandleGetSnapshot)
		api.GET("/logs", marketController.HandleGetLogs)
		api.GET("/activity", marketController.HandleGetActivity)

		api.PUT("/session/ticker", sessionController.HandleSetTicker)
		api.PUT("/session/targets", sessionController.HandleSetTargets)
		api.PUT("/session/expiration", sessionController.HandleSelectExpiration)
		api.GET("/session", sessionController.HandleGetSession)
		api.GET("/validations", sessionController.HandleGetValidations)

		api.POST("/insight", insightController.HandleAnalyzeRisk)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("CSP validator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")
	session.Close()
	market.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}
