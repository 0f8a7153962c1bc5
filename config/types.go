package config

import "time"

type AppConfig struct {
	DBDriver       string         `yaml:"db_driver" env:"INCIDENT_DESK_DB_DRIVER" env-default:"sqlite"`
	DBURL          string         `yaml:"db_url" env:"INCIDENT_DESK_DB_URL" env-default:""`
	DBPath         string         `yaml:"db_path" env:"INCIDENT_DESK_DB_PATH" env-default:"data/incidents.db"`
	ListenAddr     string         `yaml:"listen_addr" env:"INCIDENT_DESK_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv         string         `yaml:"app_env" env:"INCIDENT_DESK_APP_ENV" env-default:"dev"`
	RequestTimeout time.Duration  `yaml:"request_timeout" env:"INCIDENT_DESK_REQUEST_TIMEOUT" env-default:"15s"`
	SeedSampleData bool           `yaml:"seed_sample_data" env:"INCIDENT_DESK_SEED_SAMPLE_DATA" env-default:"true"`
	Security       SecurityConfig `yaml:"security"`
	Drafts         DraftsConfig   `yaml:"drafts"`
}

func (c *AppConfig) IsProduction() bool {
	if c == nil {
		return false
	}
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

type SecurityConfig struct {
	TrustedProxies []string `yaml:"trusted_proxies" env:"INCIDENT_DESK_TRUSTED_PROXIES" env-separator:","`
	TrustAllPeers  bool     `yaml:"trust_all_peers" env:"INCIDENT_DESK_TRUST_ALL_PEERS" env-default:"false"`
	UserHeader     string   `yaml:"user_header" env:"INCIDENT_DESK_USER_HEADER" env-default:"X-Remote-User"`
	RolesHeader    string   `yaml:"roles_header" env:"INCIDENT_DESK_ROLES_HEADER" env-default:"X-Remote-Roles"`
}

// DraftsConfig controls draft locking and garbage collection.
type DraftsConfig struct {
	LockTimeout     time.Duration `yaml:"lock_timeout" env:"INCIDENT_DESK_DRAFT_LOCK_TIMEOUT" env-default:"15m"`
	MaxAge          time.Duration `yaml:"max_age" env:"INCIDENT_DESK_DRAFT_MAX_AGE" env-default:"720h"`
	CleanupEnabled  bool          `yaml:"cleanup_enabled" env:"INCIDENT_DESK_DRAFT_CLEANUP_ENABLED" env-default:"true"`
	CleanupSchedule string        `yaml:"cleanup_schedule" env:"INCIDENT_DESK_DRAFT_CLEANUP_SCHEDULE" env-default:"@every 10m"`
}

const (
	defaultLockTimeout = 15 * time.Minute
	defaultDraftMaxAge = 30 * 24 * time.Hour
)

func (c DraftsConfig) EffectiveLockTimeout() time.Duration {
	if c.LockTimeout <= 0 {
		return defaultLockTimeout
	}
	return c.LockTimeout
}

func (c DraftsConfig) EffectiveMaxAge() time.Duration {
	if c.MaxAge <= 0 {
		return defaultDraftMaxAge
	}
	return c.MaxAge
}
