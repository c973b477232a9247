package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host        string
		Port        string
		CORSOrigins []string
	}

	Rooms struct {
		APIURL        string
		APIKey        string
		ExpiryMinutes int
		FallbackURL   string
	}

	Matchmaking struct {
		CandidateLimit  int
		Strategy        string // "scan" or "bucketed"
		RejectionTTLHrs int
		ReportTTLDays   int
	}

	Quota struct {
		FreeDailyCalls    int
		BasicDailyCalls   int
		PremiumDailyCalls int
	}

	App struct {
		ENV string
	}
}

func New() *Config {
	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "matchmaking_server")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "blinkdate")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "0.0.0.0")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")
	cfg.HTTP.CORSOrigins = splitNonEmpty(getEnvDefault("CORS_ORIGINS", "*"))

	// Call-room provisioning
	cfg.Rooms.APIURL = getEnvDefault("ROOMS_API_URL", "https://api.daily.co/v1")
	cfg.Rooms.APIKey = os.Getenv("ROOMS_API_KEY")
	cfg.Rooms.ExpiryMinutes = getEnvInt("ROOMS_EXPIRY_MINUTES", 10)
	cfg.Rooms.FallbackURL = getEnvDefault("ROOMS_FALLBACK_URL", "https://v0.daily.co/fallback")

	// Matchmaking
	cfg.Matchmaking.CandidateLimit = getEnvInt("MATCH_CANDIDATE_LIMIT", 50)
	cfg.Matchmaking.Strategy = getEnvDefault("MATCH_STRATEGY", "scan")
	cfg.Matchmaking.RejectionTTLHrs = getEnvInt("MATCH_REJECTION_TTL_HOURS", 48)
	cfg.Matchmaking.ReportTTLDays = getEnvInt("MATCH_REPORT_TTL_DAYS", 365)

	// Daily call quotas per subscription plan
	cfg.Quota.FreeDailyCalls = getEnvInt("QUOTA_FREE_DAILY_CALLS", 10)
	cfg.Quota.BasicDailyCalls = getEnvInt("QUOTA_BASIC_DAILY_CALLS", 30)
	cfg.Quota.PremiumDailyCalls = getEnvInt("QUOTA_PREMIUM_DAILY_CALLS", 100)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
