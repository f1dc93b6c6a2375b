package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/feed"
	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/metrics"
)

// ErrNotFound is returned when a token id has no record in the store.
var ErrNotFound = errors.New("token not found")

// Broadcaster publishes feed deltas. Satisfied by the Redis client.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Service is the durable token store. Every mutation is mirrored to the
// change feed so gates and admin views converge without polling the store.
type Service struct {
	db     *gorm.DB
	bc     Broadcaster
	logger *zap.Logger
}

func NewService(db *gorm.DB, bc Broadcaster, logger *zap.Logger) *Service {
	return &Service{db: db, bc: bc, logger: logger.Named("token")}
}

// Create persists a freshly granted token and announces it on the feed.
func (s *Service) Create(ctx context.Context, t *models.TokenModel) error {
	if t.ExpiresAt == 0 {
		t.ExpiresAt = t.IssuedAt.UnixMilli() + t.DurationSeconds*1000
	}
	if t.Status == "" {
		t.Status = models.TokenActive
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	metrics.TokensIssued.Inc()
	s.publish(ctx, feed.KindAdded, *t)
	return nil
}

// ByTokenID looks up a token by its service-assigned id.
func (s *Service) ByTokenID(ctx context.Context, tokenID int64) (*models.TokenModel, error) {
	var t models.TokenModel
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveTokens lists a principal's unexpired Active tokens, newest grant
// first.
func (s *Service) ActiveTokens(ctx context.Context, principal string, now time.Time) ([]models.TokenModel, error) {
	var out []models.TokenModel
	err := s.db.WithContext(ctx).
		Where("user_address = ? AND status = ? AND expires_at > ?", principal, models.TokenActive, now.UnixMilli()).
		Order("issued_at DESC").
		Find(&out).Error
	return out, err
}

// All lists every token in the store, newest grant first.
func (s *Service) All(ctx context.Context) ([]models.TokenModel, error) {
	var out []models.TokenModel
	err := s.db.WithContext(ctx).Order("issued_at DESC").Find(&out).Error
	return out, err
}

// SetStatus transitions a token away from Active. Transitions out of a
// terminal state, or back toward Active, are stale and reported as
// ErrStaleTransition so callers can drop them silently.
func (s *Service) SetStatus(ctx context.Context, tokenID int64, status models.TokenStatus) (*models.TokenModel, error) {
	if status == models.TokenActive {
		return nil, apperr.ErrStaleTransition
	}

	t, err := s.ByTokenID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TokenActive {
		return nil, apperr.ErrStaleTransition
	}

	res := s.db.WithContext(ctx).Model(&models.TokenModel{}).
		Where("token_id = ? AND status = ?", tokenID, models.TokenActive).
		Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("update token status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race to another writer; the store already converged.
		return nil, apperr.ErrStaleTransition
	}

	t.Status = status
	if status == models.TokenRevoked {
		metrics.TokensRevoked.Inc()
	}
	s.publish(ctx, feed.KindModified, *t)
	return t, nil
}

// SweepExpired marks every Active token whose expiry has passed as Expired
// and reports how many were swept.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var stale []models.TokenModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.TokenActive, now.UnixMilli()).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range stale {
		if _, err := s.SetStatus(ctx, stale[i].TokenID, models.TokenExpired); err != nil {
			if errors.Is(err, apperr.ErrStaleTransition) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// Delete removes a token record outright and announces the removal. Normal
// lifecycle never deletes; this exists for admin cleanup.
func (s *Service) Delete(ctx context.Context, tokenID int64) error {
	t, err := s.ByTokenID(ctx, tokenID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).Delete(&models.TokenModel{}).Error; err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.publish(ctx, feed.KindRemoved, *t)
	return nil
}

func (s *Service) publish(ctx context.Context, kind feed.Kind, t models.TokenModel) {
	if s.bc == nil {
		return
	}
	payload, err := json.Marshal(feed.Delta{Kind: kind, Token: t, At: time.Now()})
	if err != nil {
		s.logger.Error("marshal delta", zap.Error(err))
		return
	}
	if err := s.bc.Publish(ctx, feed.Channel, payload); err != nil {
		s.logger.Warn("publish delta", zap.String("kind", string(kind)), zap.Int64("token_id", t.TokenID), zap.Error(err))
	}
}
