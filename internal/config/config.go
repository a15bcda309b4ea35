package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB          DBConfig
	MinIO       MinIOConfig
	JWT         JWTConfig
	Encryption  EncryptionConfig
	Server      ServerConfig
	Audit       AuditConfig
	SSO         SSOConfig
	Mail        MailConfig
	Invitation  InvitationConfig
	Maintenance MaintenanceConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// EncryptionConfig feeds the key derivation for TOTP secrets at rest.
type EncryptionConfig struct {
	Secret string
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type AuditConfig struct {
	ExportInterval time.Duration
}

type SSOConfig struct {
	AutoRegister bool
	Google       OAuthProviderConfig
	GitHub       OAuthProviderConfig
	OIDC         OAuthProviderConfig
}

// OAuthProviderConfig holds one provider's client settings. IssuerURL
// is only meaningful for the generic OIDC provider.
type OAuthProviderConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string
	IssuerURL    string
}

type MailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

type InvitationConfig struct {
	Expiry time.Duration
}

type MaintenanceConfig struct {
	Schedule       string
	LockTTL        time.Duration
	ShareRetention time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trellis"),
			Password: getEnv("DB_PASSWORD", "trellis_secret"),
			Name:     getEnv("DB_NAME", "trellis"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", getEnv("MINIO_ENDPOINT", "localhost:9000")),
			AccessKey:      getEnv("MINIO_ACCESS_KEY", "trellis"),
			SecretKey:      getEnv("MINIO_SECRET_KEY", "trellis_secret"),
			Bucket:         getEnv("MINIO_BUCKET", "trellis"),
			UseSSL:         getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Encryption: EncryptionConfig{
			Secret: getEnv("ENCRYPTION_SECRET", "change-me-in-production"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Audit: AuditConfig{
			ExportInterval: getEnvAsDuration("AUDIT_EXPORT_INTERVAL", 1*time.Hour),
		},
		SSO: SSOConfig{
			AutoRegister: getEnvAsBool("SSO_AUTO_REGISTER", true),
			Google: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GOOGLE_ENABLED", false),
				ClientID:     getEnv("SSO_GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GOOGLE_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GOOGLE_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GOOGLE_SCOPES", "openid,email,profile"),
			},
			GitHub: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GITHUB_ENABLED", false),
				ClientID:     getEnv("SSO_GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GITHUB_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GITHUB_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GITHUB_SCOPES", "read:user,user:email"),
			},
			OIDC: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_OIDC_ENABLED", false),
				ClientID:     getEnv("SSO_OIDC_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_OIDC_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_OIDC_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_OIDC_SCOPES", "openid,email,profile"),
				IssuerURL:    getEnv("SSO_OIDC_ISSUER_URL", ""),
			},
		},
		Mail: MailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("MAIL_FROM_EMAIL", "no-reply@trellis.local"),
			FromName:       getEnv("MAIL_FROM_NAME", "Trellis"),
		},
		Invitation: InvitationConfig{
			Expiry: getEnvAsDuration("INVITATION_EXPIRY", 168*time.Hour),
		},
		Maintenance: MaintenanceConfig{
			Schedule:       getEnv("MAINTENANCE_SCHEDULE", "@hourly"),
			LockTTL:        getEnvAsDuration("DOCUMENT_LOCK_TTL", 24*time.Hour),
			ShareRetention: getEnvAsDuration("SHARE_RETENTION", 720*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
