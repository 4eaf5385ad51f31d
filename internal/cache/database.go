package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/insightconsole/backend/internal/models"
)

// DatabaseStore keeps counters in the primary SQL database. It is shared across
// instances, so it stands in for Redis when none is configured.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db}
}

// ConsumeWindow implements Store under a row lock. A concurrent first insert for the
// same key loses on the primary key and is retried once against the winning row.
func (s *DatabaseStore) ConsumeWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error) {
	if s == nil {
		return Window{}, fmt.Errorf("%w: database store not initialised", ErrUnavailable)
	}
	if limit <= 0 || window <= 0 {
		return Window{}, fmt.Errorf("cache: invalid window limit=%d window=%s", limit, window)
	}

	result, err := s.consume(ctx, key, limit, window, now)
	if err != nil {
		result, err = s.consume(ctx, key, limit, window, now)
	}
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

func (s *DatabaseStore) consume(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error) {
	var result Window
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
			Take(&entry).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = startWindow(limit, window, now)
			return tx.Create(&models.CacheEntry{
				Key:       key,
				Count:     result.Count,
				ResetAt:   result.ResetAt,
				ExpiresAt: result.ResetAt,
			}).Error
		case err != nil:
			return err
		}

		if !now.Before(entry.ResetAt) {
			result = startWindow(limit, window, now)
			return tx.Model(&entry).Updates(map[string]interface{}{
				"count":      result.Count,
				"reset_at":   result.ResetAt,
				"expires_at": result.ResetAt,
			}).Error
		}

		if entry.Count >= limit {
			result = Window{Count: entry.Count, Limit: limit, ResetAt: entry.ResetAt, Allowed: false}
			return nil
		}

		result = Window{Count: entry.Count + 1, Limit: limit, ResetAt: entry.ResetAt, Allowed: true}
		return tx.Model(&entry).Update("count", gorm.Expr("? + 1", clause.Column{Name: "count"})).Error
	})
	return result, err
}

// PurgeExpired removes counters whose window ended before now.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

// Ping implements Store.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("%w: database store not initialised", ErrUnavailable)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the database handle belongs to the application.
func (s *DatabaseStore) Close() error { return nil }
