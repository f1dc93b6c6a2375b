package admin

import (
	"context"

	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/models"
)

// RequestMirror is the locally persisted copy of submitted access requests.
// It fills the gap between a principal submitting a request and the panel's
// next authoritative queue poll.
type RequestMirror interface {
	Record(ctx context.Context, userAddress, resource string, durationSeconds int64) error
	Pending(ctx context.Context) ([]models.AccessRequestModel, error)
	Settle(ctx context.Context, userAddress string) error
}

// Mirror is the gorm-backed RequestMirror over the access_requests table.
type Mirror struct {
	db *gorm.DB
}

func NewMirror(db *gorm.DB) *Mirror {
	return &Mirror{db: db}
}

func (m *Mirror) Record(ctx context.Context, userAddress, resource string, durationSeconds int64) error {
	row := models.AccessRequestModel{
		UserAddress:     userAddress,
		Resource:        resource,
		DurationSeconds: durationSeconds,
	}
	return m.db.WithContext(ctx).Create(&row).Error
}

func (m *Mirror) Pending(ctx context.Context) ([]models.AccessRequestModel, error) {
	var rows []models.AccessRequestModel
	err := m.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// Settle removes every mirrored request of the principal. A grant settles by
// user address, the same way the authorization service drains its queue.
func (m *Mirror) Settle(ctx context.Context, userAddress string) error {
	return m.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Delete(&models.AccessRequestModel{}).Error
}
