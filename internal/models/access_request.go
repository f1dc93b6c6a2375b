package models

// AccessRequestModel is a pending access request produced by a principal and
// consumed when an admin grants it. The authorization service keeps the
// canonical queue; this table is the local mirror observed by the admin panel.
type AccessRequestModel struct {
	Base
	UserAddress     string `json:"user_address"     gorm:"index;not null"`
	Resource        string `json:"resource"         gorm:"not null"`
	DurationSeconds int64  `json:"duration_seconds" gorm:"not null"`
}

func (AccessRequestModel) TableName() string { return "access_requests" }
