package models

import "time"

// UserSession is one signed-in device of an admin or sensor-client account.
// Every JWT carries a session id, so revoking the row invalidates the token.
type UserSession struct {
	Base
	UserID    string     `json:"user_id"    gorm:"index;not null"`
	IP        string     `json:"ip"`
	UserAgent string     `json:"user_agent" gorm:"type:text"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"index;not null"`
	RevokedAt *time.Time `json:"revoked_at" gorm:"index"`
}

// Active reports whether the session is neither revoked nor past expiry.
func (s *UserSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

func (UserSession) TableName() string { return "user_sessions" }
