package models

import "time"

// UserRole separates the admin reconciliation surface from sensor clients.
type UserRole string

const (
	RoleAdmin        UserRole = "admin"
	RoleSensorClient UserRole = "sensor_client"
)

// UserModel represents an operator or a sensor client. Sensor clients are
// provisioned on first sign-in; admins are seeded out of band.
type UserModel struct {
	Base
	Username      string     `json:"username"        gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"               gorm:"not null"`
	Mail          string     `json:"mail"`
	WalletAddress string     `json:"wallet_address"  gorm:"index"`
	Role          UserRole   `json:"role"            gorm:"index;default:sensor_client"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
}

func (UserModel) TableName() string { return "users" }
