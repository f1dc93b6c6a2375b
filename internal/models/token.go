package models

import "time"

// TokenStatus is the authoritative lifecycle state of a capability token.
// A token only ever moves away from Active; it never returns.
type TokenStatus string

const (
	TokenActive  TokenStatus = "Active"
	TokenExpired TokenStatus = "Expired"
	TokenRevoked TokenStatus = "Revoked"
)

// TokenModel is a time-bounded capability record authorizing one principal
// to read one resource's live telemetry stream. All fields except Status are
// fixed at grant time.
type TokenModel struct {
	Base
	TokenID         int64       `json:"token_id"         gorm:"uniqueIndex;not null"`
	UserAddress     string      `json:"user_address"     gorm:"index;not null"`
	Resource        string      `json:"resource"         gorm:"not null"`
	IssuedAt        time.Time   `json:"issued_at"        gorm:"not null"`
	DurationSeconds int64       `json:"duration_seconds" gorm:"not null"`
	ExpiresAt       int64       `json:"expires_at"       gorm:"index;not null"` // unix milliseconds, = IssuedAt + DurationSeconds*1000
	Status          TokenStatus `json:"status"           gorm:"index;default:Active"`
	TxHash          string      `json:"tx_hash"`
}

func (TokenModel) TableName() string { return "tokens" }

// ExpiryTime returns ExpiresAt as a time.Time.
func (t *TokenModel) ExpiryTime() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}
