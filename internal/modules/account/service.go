package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/jwt"
	"github.com/rakshanetra/core/internal/pkg/session"
)

const sessionTTL = 7 * 24 * time.Hour

// Service handles operator and sensor-client accounts.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger.Named("account")}
}

// LoginResult is what a successful sign-in returns.
type LoginResult struct {
	Token         string          `json:"token"`
	Username      string          `json:"username"`
	Role          models.UserRole `json:"role"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Login verifies credentials and issues a session-bound JWT.
func (s *Service) Login(ctx context.Context, username, password, ip, ua string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}

	var user models.UserModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Authorization("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.Authorization("invalid credentials")
	}

	_, sess, err := session.Issue(s.db, user.ID, ip, ua, sessionTTL)
	if err != nil {
		return nil, err
	}
	token, err := jwt.SignWithOptions(user.ID, sessionTTL, jwt.SignOptions{SessionID: sess.ID})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"last_login_time": &now,
		"last_login_ip":   ip,
	})

	s.logger.Info("sign in", zap.String("username", username), zap.String("ip", ip))
	return &LoginResult{
		Token:         token,
		Username:      user.Username,
		Role:          user.Role,
		WalletAddress: user.WalletAddress,
		ExpiresAt:     now.Add(sessionTTL),
	}, nil
}

// Logout revokes the current session.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	return session.Revoke(s.db, userID, sessionID)
}

// RegisterSensorClient provisions a sensor-client account bound to a wallet
// address. Admin accounts are never created through this path.
func (s *Service) RegisterSensorClient(ctx context.Context, username, password, walletAddress string) (*models.UserModel, error) {
	username = strings.TrimSpace(username)
	walletAddress = strings.TrimSpace(walletAddress)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if walletAddress == "" {
		return nil, apperr.Validation("wallet address is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperr.Validation("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.UserModel{
		Username:      username,
		Password:      string(hash),
		WalletAddress: walletAddress,
		Role:          models.RoleSensorClient,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureAdmin seeds the admin account on first boot if none exists.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.UserModel{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := &models.UserModel{
		Username: username,
		Password: string(hash),
		Role:     models.RoleAdmin,
	}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return err
	}
	s.logger.Info("seeded admin account", zap.String("username", username))
	return nil
}

// ByID loads a user record.
func (s *Service) ByID(ctx context.Context, id string) (*models.UserModel, error) {
	var user models.UserModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Authorization("unknown user")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
