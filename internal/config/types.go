package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int               `yaml:"port"`
	Env            string            `yaml:"env"` // "development" | "production"
	DSN            string            `yaml:"dsn"` // MySQL DSN, overrides Database when set
	Database       DatabaseConfig    `yaml:"database"`
	RedisURL       string            `yaml:"redis_url"`
	JWTSecret      string            `yaml:"jwt_secret"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	AuthService    AuthServiceConfig `yaml:"auth_service"`
	Gate           GateConfig        `yaml:"gate"`
	Reconcile      ReconcileConfig   `yaml:"reconcile"`
	Backup         BackupConfig      `yaml:"backup"`
	Bark           BarkConfig        `yaml:"bark"`
	SensorKey      string            `yaml:"sensor_key"` // shared secret for the telemetry ingest endpoint
	Admin          AdminSeedConfig   `yaml:"admin"`
}

// AdminSeedConfig seeds the first admin account when the users table has
// none.
type AdminSeedConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
	Loc      string `yaml:"loc"`
}

// AuthServiceConfig points at the blockchain-backed authorization service.
type AuthServiceConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GateConfig tunes the per-principal access gate.
type GateConfig struct {
	GraceWindowSeconds  int `yaml:"grace_window_seconds"`
	NoAccessWaitSeconds int `yaml:"no_access_wait_seconds"`
}

// ReconcileConfig tunes the admin reconciliation loops.
type ReconcileConfig struct {
	StatusPollSeconds   int `yaml:"status_poll_seconds"`
	RequestsPollSeconds int `yaml:"requests_poll_seconds"`
}

// BackupConfig controls ledger backups.
type BackupConfig struct {
	Dir string    `yaml:"dir"`
	S3  S3Options `yaml:"s3"`
}

// S3Options configures the optional S3 backup target.
type S3Options struct {
	Enable          bool   `yaml:"enable"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyleAccess bool   `yaml:"path_style_access"`
	PathTemplate    string `yaml:"path_template"`
}

// BarkConfig configures operator push alerts.
type BarkConfig struct {
	Key       string `yaml:"key"`
	ServerURL string `yaml:"server_url"`
	Title     string `yaml:"title"`
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env != "production" }
