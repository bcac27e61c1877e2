// Package config loads the layered configuration every component needs:
// environment variables override a YAML file, which overrides the built-in
// defaults below. One struct covers every component (database, cache,
// cross-process invalidation, audit, auth) so cmd/main.go builds exactly
// one Config value and threads it through Application, instead of passing
// loose variables around.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full set of knobs the server reads at startup.
type Config struct {
	Port string `yaml:"port"`

	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Synchro  SynchroConfig  `yaml:"synchro"`
	Audit    AuditConfig    `yaml:"audit"`
	Auth     AuthConfig     `yaml:"auth"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// HTTPConfig parameterizes the ambient HTTP middleware chain (rate limiting,
// response compression) internal/httpapi mounts.
type HTTPConfig struct {
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `yaml:"rateLimitBurst"`
	GzipLevel          int     `yaml:"gzipLevel"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbName"`
	SSLMode  string `yaml:"sslMode"`
}

type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
}

type SynchroConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type AuditConfig struct {
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
	SyslogAddr  string   `yaml:"syslogAddr"`
	SyslogProto string   `yaml:"syslogProto"`
}

type AuthConfig struct {
	SessionTTLMinutes int `yaml:"sessionTTLMinutes"`

	// TOTPIssuer names the issuer shown in an authenticator app when a user
	// enrolls the optional TOTP second factor (internal/app).
	TOTPIssuer string `yaml:"totpIssuer"`

	// SessionSweepCronSpec schedules the periodic sweep that prunes expired
	// sessions from Postgres (internal/db, robfig/cron). Empty disables it.
	SessionSweepCronSpec string `yaml:"sessionSweepCronSpec"`

	// Alternate login providers (internal/auth/providers.go). Each is
	// registered only when its required settings are non-empty.
	JWTProviderSecret string `yaml:"jwtProviderSecret"`

	OIDCIssuerURL     string `yaml:"oidcIssuerURL"`
	OIDCClientID      string `yaml:"oidcClientID"`
	OIDCClientSecret  string `yaml:"oidcClientSecret"`
	OIDCRedirectURL   string `yaml:"oidcRedirectURL"`

	SAMLEntityID string `yaml:"samlEntityID"`
	SAMLAcsURL   string `yaml:"samlAcsURL"`
	// SAMLIDPMetadataPath points at the identity provider's published
	// metadata XML; unset disables the saml provider regardless of the
	// other saml settings above.
	SAMLIDPMetadataPath string `yaml:"samlIDPMetadataPath"`
}

// Defaults returns the built-in configuration every layer starts from.
func Defaults() Config {
	return Config{
		Port: "8000",
		Database: DatabaseConfig{
			Host: "localhost", Port: "5432",
			User: "datacore", Password: "datacore",
			DBName: "datacore", SSLMode: "disable",
		},
		Cache: CacheConfig{Enabled: false, Host: "localhost", Port: "6379"},
		Audit: AuditConfig{Include: []string{"all"}},
		Auth:  AuthConfig{SessionTTLMinutes: 60, TOTPIssuer: "datacore", SessionSweepCronSpec: "@every 15m"},
		HTTP:  HTTPConfig{RateLimitPerSecond: 50, RateLimitBurst: 100, GzipLevel: 6},
	}
}

// Load builds a Config from the defaults, then an optional YAML file at
// path (if it exists), then environment variable overrides — in that order,
// so the environment always wins.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// NewTestConfig returns defaults suitable for unit/integration tests: a
// disabled cache, no Synchro URL, and audit set to record everything.
func NewTestConfig() Config {
	cfg := Defaults()
	cfg.Database.DBName = "datacore_test"
	return cfg
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true"
		}
	}
	intVal := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatVal := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("API_PORT", &cfg.Port)
	str("DB_HOST", &cfg.Database.Host)
	str("DB_PORT", &cfg.Database.Port)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.DBName)
	str("DB_SSL_MODE", &cfg.Database.SSLMode)

	boolean("CACHE_ENABLED", &cfg.Cache.Enabled)
	str("REDIS_HOST", &cfg.Cache.Host)
	str("REDIS_PORT", &cfg.Cache.Port)
	str("REDIS_PASSWORD", &cfg.Cache.Password)

	str("SYNCHRO_URL", &cfg.Synchro.URL)
	str("SYNCHRO_USER", &cfg.Synchro.User)
	str("SYNCHRO_PASSWORD", &cfg.Synchro.Password)

	str("AUDIT_SYSLOG_ADDR", &cfg.Audit.SyslogAddr)
	str("AUDIT_SYSLOG_PROTO", &cfg.Audit.SyslogProto)

	intVal("AUTH_SESSION_TTL_MINUTES", &cfg.Auth.SessionTTLMinutes)
	str("AUTH_TOTP_ISSUER", &cfg.Auth.TOTPIssuer)
	str("AUTH_SESSION_SWEEP_CRON_SPEC", &cfg.Auth.SessionSweepCronSpec)
	str("AUTH_JWT_PROVIDER_SECRET", &cfg.Auth.JWTProviderSecret)
	str("AUTH_OIDC_ISSUER_URL", &cfg.Auth.OIDCIssuerURL)
	str("AUTH_OIDC_CLIENT_ID", &cfg.Auth.OIDCClientID)
	str("AUTH_OIDC_CLIENT_SECRET", &cfg.Auth.OIDCClientSecret)
	str("AUTH_OIDC_REDIRECT_URL", &cfg.Auth.OIDCRedirectURL)
	str("AUTH_SAML_ENTITY_ID", &cfg.Auth.SAMLEntityID)
	str("AUTH_SAML_ACS_URL", &cfg.Auth.SAMLAcsURL)
	str("AUTH_SAML_IDP_METADATA_PATH", &cfg.Auth.SAMLIDPMetadataPath)

	floatVal("HTTP_RATE_LIMIT_PER_SECOND", &cfg.HTTP.RateLimitPerSecond)
	intVal("HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimitBurst)
	intVal("HTTP_GZIP_LEVEL", &cfg.HTTP.GzipLevel)
}
