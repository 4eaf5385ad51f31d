package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/models"
)

// LinkStore persists link tokens.
type LinkStore interface {
	// Replace removes every token for the email and inserts token, atomically.
	Replace(ctx context.Context, token *models.LinkToken) error
	// Find returns the token matching email and hash, or ErrInvalidLink.
	Find(ctx context.Context, email, tokenHash string) (*models.LinkToken, error)
	// MarkUsed stamps used_at only if it is still unset. A token already consumed,
	// including by a concurrent caller, yields ErrLinkAlreadyUsed.
	MarkUsed(ctx context.Context, id string, at time.Time) error
	// DeleteExpiredBefore removes tokens whose expiry precedes cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormLinkStore is the SQL implementation of LinkStore.
type GormLinkStore struct {
	db *gorm.DB
}

// NewGormLinkStore constructs a LinkStore over db.
func NewGormLinkStore(db *gorm.DB) (*GormLinkStore, error) {
	if db == nil {
		return nil, errors.New("link store: db is required")
	}
	return &GormLinkStore{db: db}, nil
}

func (s *GormLinkStore) Replace(ctx context.Context, token *models.LinkToken) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", token.Email).Delete(&models.LinkToken{}).Error; err != nil {
			return err
		}
		return tx.Create(token).Error
	})
	if err != nil {
		return fmt.Errorf("%w: replace link token: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormLinkStore) Find(ctx context.Context, email, tokenHash string) (*models.LinkToken, error) {
	var token models.LinkToken
	err := s.db.WithContext(ctx).
		Where("email = ? AND token_hash = ?", email, tokenHash).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find link token: %v", ErrStoreUnavailable, err)
	}
	return &token, nil
}

func (s *GormLinkStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.LinkToken{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	if res.Error != nil {
		return fmt.Errorf("%w: mark link token used: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkAlreadyUsed
	}
	return nil
}

func (s *GormLinkStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.LinkToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: purge link tokens: %v", ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}
