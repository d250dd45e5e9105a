package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	ServerAddress   string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	AllowedOrigin   string
	RedisAddr       string
	RollbarToken    string
	Env             string
	Build           string
	APIBaseURL      string
	TypingTimeout   time.Duration
	ReconcileEvery  time.Duration
	SessionFilePath string
}

// Load reads configuration from the environment, optionally seeded by a .env
// file in the working directory.
func Load() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	dotEnvPath := filepath.Join(cwd, ".env")
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("DATABASE_URL", "sqlite://"+filepath.Join(cwd, "data", "schoolchat.db"))
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("BUILD", "dev")
	v.SetDefault("API_BASE_URL", "http://localhost:8080/api")
	v.SetDefault("TYPING_TIMEOUT", 3*time.Second)
	v.SetDefault("UNREAD_RECONCILE_INTERVAL", 30*time.Second)
	v.SetDefault("SESSION_FILE", filepath.Join(cwd, "data", "session.json"))
	v.AutomaticEnv()

	return &Config{
		ServerAddress:   v.GetString("SERVER_ADDRESS"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		TokenTTL:        v.GetDuration("TOKEN_TTL"),
		AllowedOrigin:   v.GetString("ALLOWED_ORIGIN"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RollbarToken:    v.GetString("ROLLBAR_TOKEN"),
		Env:             v.GetString("APP_ENV"),
		Build:           v.GetString("BUILD"),
		APIBaseURL:      strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		TypingTimeout:   v.GetDuration("TYPING_TIMEOUT"),
		ReconcileEvery:  v.GetDuration("UNREAD_RECONCILE_INTERVAL"),
		SessionFilePath: v.GetString("SESSION_FILE"),
	}
}

// DatabaseDriver picks the sql driver name from the DATABASE_URL scheme.
func (c *Config) DatabaseDriver() string {
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// DataSource returns the DSN to hand to the driver returned by DatabaseDriver.
func (c *Config) DataSource() string {
	if c.DatabaseDriver() == DriverPostgres {
		return c.DatabaseURL
	}
	return c.CleanDatabasePath()
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}

// SocketURL derives the websocket endpoint from the REST base URL:
// http://host:8080/api becomes ws://host:8080/ws.
func (c *Config) SocketURL() (string, error) {
	return SocketURLFor(c.APIBaseURL)
}

func SocketURLFor(apiBaseURL string) (string, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid API_BASE_URL %q: %v", apiBaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
