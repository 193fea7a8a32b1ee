package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"csp-validator/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LocalStorage persists validation results and activity entries in SQLite.
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage opens (or creates) the database at dbPath and migrates the
// schema.
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBValidation{},
		&models.DBActivityEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// SaveValidation records one computed trade validation.
func (s *LocalStorage) SaveValidation(inputs models.TradeInputs, calc *models.TradeCalculation) error {
	if calc == nil {
		return nil
	}

	row := &models.DBValidation{
		Ticker:              inputs.Ticker,
		ExpirationDate:      inputs.SelectedDate,
		Strike:              calc.CalculatedStrike,
		DTE:                 calc.DTE,
		TargetAPY:           inputs.TargetAPY,
		TargetDiscount:      inputs.TargetDiscount,
		RequiredTotalCredit: calc.RequiredTotalCredit,
		ActualTotalCredit:   calc.ActualTotalCredit,
		ActualAPY:           calc.ActualAPY,
		NetPurchasePrice:    calc.NetPurchasePrice,
		TargetMet:           calc.IsTargetMet,
		ComputedAt:          time.Now(),
	}

	if result := s.db.Create(row); result.Error != nil {
		return fmt.Errorf("failed to save validation: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"ticker":     row.Ticker,
		"strike":     row.Strike,
		"target_met": row.TargetMet,
	}).Debug("Validation saved")
	return nil
}

// RecentValidations returns up to limit validations, newest first.
func (s *LocalStorage) RecentValidations(ticker string, limit int) ([]models.DBValidation, error) {
	var rows []models.DBValidation

	query := s.db.Order("created_at DESC").Limit(limit)
	if ticker != "" {
		query = query.Where("ticker = ?", models.NormalizeTicker(ticker))
	}
	if result := query.Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("failed to get validations: %w", result.Error)
	}

	return rows, nil
}

// SaveActivityEntry records one event-bus line.
func (s *LocalStorage) SaveActivityEntry(ticker, message string) error {
	row := &models.DBActivityEntry{
		Ticker:   models.NormalizeTicker(ticker),
		Message:  message,
		IsError:  strings.Contains(message, "ERROR:"),
		LoggedAt: time.Now(),
	}

	if result := s.db.Create(row); result.Error != nil {
		return fmt.Errorf("failed to save activity entry: %w", result.Error)
	}
	return nil
}

// RecentActivity returns up to limit activity entries, newest first.
func (s *LocalStorage) RecentActivity(limit int) ([]models.DBActivityEntry, error) {
	var rows []models.DBActivityEntry

	if result := s.db.Order("created_at DESC").Limit(limit).Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("failed to get activity entries: %w", result.Error)
	}

	return rows, nil
}
