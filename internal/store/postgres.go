package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

// valuationRow is the relational shape of a stored valuation. Nested structures
// are kept as JSONB; the columns used for scans are promoted.
type valuationRow struct {
	ID                 string         `gorm:"primaryKey;type:varchar(64)"`
	Status             string         `gorm:"type:varchar(16);not null;index:idx_valuations_status_created,priority:1"`
	Tier               string         `gorm:"type:varchar(16);not null"`
	TransactionID      string         `gorm:"type:varchar(128);index"`
	Attributes         datatypes.JSON `gorm:"type:jsonb;not null"`
	Payment            datatypes.JSON `gorm:"type:jsonb;not null"`
	Result             datatypes.JSON `gorm:"type:jsonb"`
	MarketValue        int64
	HistoricalTrendPct float64
	LastUpdated        *time.Time
	RefinementHistory  datatypes.JSON `gorm:"type:jsonb;not null"`
	Version            int64          `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"not null;index:idx_valuations_status_created,priority:2"`
}

func (valuationRow) TableName() string {
	return "valuations"
}

// PostgresStore persists valuations through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects to PostgreSQL with a silent gorm logger
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
}

// NewPostgresStore wraps an open gorm connection
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates or updates the valuations table
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&valuationRow{})
}

// Insert stores a new valuation
func (s *PostgresStore) Insert(ctx context.Context, v model.StoredValuation) error {
	row, err := toRow(v)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

// Load fetches one valuation
func (s *PostgresStore) Load(ctx context.Context, id string) (model.StoredValuation, error) {
	var row valuationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.StoredValuation{}, ErrNotFound
		}
		return model.StoredValuation{}, err
	}
	return fromRow(row)
}

// Save applies the patch in a transaction guarded by a version predicate
func (s *PostgresStore) Save(ctx context.Context, id string, patch model.Patch) (model.StoredValuation, error) {
	var saved model.StoredValuation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row valuationRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if row.Version != patch.ExpectedVersion {
			return ErrVersionConflict
		}

		v, err := fromRow(row)
		if err != nil {
			return err
		}
		patch.Apply(&v)

		next, err := toRow(v)
		if err != nil {
			return err
		}
		res := tx.Model(&valuationRow{}).
			Where("id = ? AND version = ?", id, patch.ExpectedVersion).
			Updates(map[string]any{
				"result":               next.Result,
				"market_value":         next.MarketValue,
				"historical_trend_pct": next.HistoricalTrendPct,
				"last_updated":         next.LastUpdated,
				"refinement_history":   next.RefinementHistory,
				"version":              next.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		saved = v
		return nil
	})
	if err != nil {
		return model.StoredValuation{}, err
	}
	return saved, nil
}

// ListCompleted returns completed valuations ordered by creation time
func (s *PostgresStore) ListCompleted(ctx context.Context) ([]model.StoredValuation, error) {
	var rows []valuationRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(model.StatusCompleted)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.StoredValuation, 0, len(rows))
	for _, row := range rows {
		v, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toRow(v model.StoredValuation) (valuationRow, error) {
	attrs, err := json.Marshal(v.Attributes)
	if err != nil {
		return valuationRow{}, fmt.Errorf("failed to encode attributes: %w", err)
	}
	payment, err := json.Marshal(v.Payment)
	if err != nil {
		return valuationRow{}, fmt.Errorf("failed to encode payment: %w", err)
	}
	history := v.RefinementHistory
	if history == nil {
		history = []model.RefinementRecord{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return valuationRow{}, fmt.Errorf("failed to encode refinement history: %w", err)
	}

	row := valuationRow{
		ID:                 v.ID,
		Status:             string(v.Status),
		Tier:               string(v.Tier),
		TransactionID:      v.Payment.TransactionID,
		Attributes:         datatypes.JSON(attrs),
		Payment:            datatypes.JSON(payment),
		HistoricalTrendPct: v.MarketInsights.HistoricalTrendPercentage,
		LastUpdated:        v.LastUpdated,
		RefinementHistory:  datatypes.JSON(historyJSON),
		Version:            v.Version,
		CreatedAt:          v.CreatedAt,
	}
	if v.Result != nil {
		result, err := json.Marshal(v.Result)
		if err != nil {
			return valuationRow{}, fmt.Errorf("failed to encode result: %w", err)
		}
		row.Result = datatypes.JSON(result)
		row.MarketValue = v.Result.MarketValue
	}
	return row, nil
}

func fromRow(row valuationRow) (model.StoredValuation, error) {
	v := model.StoredValuation{
		ID:             row.ID,
		Status:         model.ValuationStatus(row.Status),
		Tier:           types.Tier(row.Tier),
		MarketInsights: model.MarketInsights{HistoricalTrendPercentage: row.HistoricalTrendPct},
		LastUpdated:    row.LastUpdated,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
	}
	if err := json.Unmarshal(row.Attributes, &v.Attributes); err != nil {
		return model.StoredValuation{}, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if err := json.Unmarshal(row.Payment, &v.Payment); err != nil {
		return model.StoredValuation{}, fmt.Errorf("failed to decode payment: %w", err)
	}
	if err := json.Unmarshal(row.RefinementHistory, &v.RefinementHistory); err != nil {
		return model.StoredValuation{}, fmt.Errorf("failed to decode refinement history: %w", err)
	}
	if len(row.Result) > 0 && string(row.Result) != "null" {
		var result model.ValuationResult
		if err := json.Unmarshal(row.Result, &result); err != nil {
			return model.StoredValuation{}, fmt.Errorf("failed to decode result: %w", err)
		}
		v.Result = &result
	}
	return v, nil
}
