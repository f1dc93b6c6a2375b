package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort                = 2333
	defaultEnv                 = "development"
	defaultDBHost              = "127.0.0.1"
	defaultDBPort              = 3306
	defaultDBUser              = "root"
	defaultDBPassword          = "password"
	defaultDBName              = "rakshanetra"
	defaultDBCharset           = "utf8mb4"
	defaultDBLoc               = "Local"
	defaultRedisURL            = "redis://localhost:6379/0"
	defaultAuthServiceURL      = "http://127.0.0.1:5000"
	defaultAuthTimeoutSeconds  = 5
	defaultGraceWindowSeconds  = 5
	defaultNoAccessWaitSeconds = 5
	defaultStatusPollSeconds   = 15
	defaultRequestsPollSeconds = 10
)

// Load reads the YAML config file, applies environment overrides and fills
// defaults. A missing file is not an error; defaults apply.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.DSN == "" {
		cfg.DSN = cfg.Database.BuildDSN()
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("RN_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("RN_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_DSN")); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_AUTH_SERVICE_URL")); v != "" {
		cfg.AuthService.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_SENSOR_KEY")); v != "" {
		cfg.SensorKey = v
	}
	if v := strings.TrimSpace(os.Getenv("RN_ADMIN_USERNAME")); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("RN_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = defaultRedisURL
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = defaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = defaultDBUser
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = defaultDBPassword
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = defaultDBName
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = defaultDBCharset
	}
	if cfg.Database.Loc == "" {
		cfg.Database.Loc = defaultDBLoc
	}
	if cfg.AuthService.URL == "" {
		cfg.AuthService.URL = defaultAuthServiceURL
	}
	if cfg.AuthService.TimeoutSeconds <= 0 {
		cfg.AuthService.TimeoutSeconds = defaultAuthTimeoutSeconds
	}
	if cfg.Gate.GraceWindowSeconds <= 0 {
		cfg.Gate.GraceWindowSeconds = defaultGraceWindowSeconds
	}
	if cfg.Gate.NoAccessWaitSeconds <= 0 {
		cfg.Gate.NoAccessWaitSeconds = defaultNoAccessWaitSeconds
	}
	if cfg.Reconcile.StatusPollSeconds <= 0 {
		cfg.Reconcile.StatusPollSeconds = defaultStatusPollSeconds
	}
	if cfg.Reconcile.RequestsPollSeconds <= 0 {
		cfg.Reconcile.RequestsPollSeconds = defaultRequestsPollSeconds
	}
}
