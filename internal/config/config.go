// Package config loads calsync settings from an optional .env file and the
// process environment.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"calsync/internal/credentials"
	"calsync/internal/ics"
	"calsync/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultRedirectURL = "http://localhost:8085/oauth/callback"
	maxPageSize        = 2500
)

type Config struct {
	Google      OAuthClient
	Outlook     OAuthClient
	Tenant      string // Azure AD tenant for Outlook sign-in
	RedirectURL string

	DatabasePath   string
	CredentialsDir string
	LogLevel       string

	Sync   SyncConfig
	ICloud ICloudConfig
	Redis  RedisConfig
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the client are set.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type SyncConfig struct {
	PageSize    int
	Lookback    time.Duration
	HTTPTimeout time.Duration
	UIDDomain   string
	LockTTL     time.Duration
}

type ICloudConfig struct {
	Username     string
	Password     string
	CalendarName string
}

func (c ICloudConfig) Configured() bool {
	return c.Username != "" && c.Password != "" && c.CalendarName != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads envFile if it exists, then lets environment variables override
// it. An empty envFile means ".env" in the working directory.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{
		Google: OAuthClient{
			ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		},
		Outlook: OAuthClient{
			ClientID:     v.GetString("OUTLOOK_CLIENT_ID"),
			ClientSecret: v.GetString("OUTLOOK_CLIENT_SECRET"),
		},
		Tenant:         v.GetString("OUTLOOK_TENANT"),
		RedirectURL:    v.GetString("OAUTH_REDIRECT_URL"),
		DatabasePath:   v.GetString("DATABASE_PATH"),
		CredentialsDir: v.GetString("CREDENTIALS_DIR"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	cfg.Sync = SyncConfig{
		PageSize:    clamp(v.GetInt("SYNC_PAGE_SIZE"), 1, maxPageSize),
		Lookback:    parseDuration(v.GetString("SYNC_LOOKBACK"), 4380*time.Hour),
		HTTPTimeout: parseDuration(v.GetString("HTTP_TIMEOUT"), 30*time.Second),
		UIDDomain:   v.GetString("ICS_UID_DOMAIN"),
		LockTTL:     parseDuration(v.GetString("SYNC_LOCK_TTL"), 10*time.Minute),
	}

	cfg.ICloud = ICloudConfig{
		Username:     v.GetString("ICLOUD_USERNAME"),
		Password:     v.GetString("ICLOUD_APP_SPECIFIC_PASSWORD"),
		CalendarName: v.GetString("ICLOUD_CALENDAR_NAME"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("OUTLOOK_CLIENT_ID", "")
	v.SetDefault("OUTLOOK_CLIENT_SECRET", "")
	v.SetDefault("OUTLOOK_TENANT", "common")
	v.SetDefault("OAUTH_REDIRECT_URL", DefaultRedirectURL)

	v.SetDefault("DATABASE_PATH", store.DefaultPath())
	v.SetDefault("CREDENTIALS_DIR", credentials.DefaultDir())
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("SYNC_PAGE_SIZE", 250)
	v.SetDefault("SYNC_LOOKBACK", "4380h")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("ICS_UID_DOMAIN", ics.DefaultDomain)
	v.SetDefault("SYNC_LOCK_TTL", "10m")

	v.SetDefault("ICLOUD_USERNAME", "")
	v.SetDefault("ICLOUD_APP_SPECIFIC_PASSWORD", "")
	v.SetDefault("ICLOUD_CALENDAR_NAME", "")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
