package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	AppEnv     string
	Debug      bool
	DBAdapter  string
	SQLiteFile string
	JwtSecret  string
	BotToken   string
	SentryDSN  string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	// Load .env file if it exists (useful for development); real environment
	// variables take precedence.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	debug, _ := strconv.ParseBool(getenv("DEBUG", "false"))

	c := &Config{
		Port:       getenv("PORT", "8080"),
		AppEnv:     getenv("APP_ENV", "development"),
		Debug:      debug,
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/coinfall.db"),
		JwtSecret:  getenv("JWT_SECRET", "change-me"),
		BotToken:   getenv("BOT_TOKEN", ""),
		SentryDSN:  getenv("SENTRY_DSN", ""),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "coinfall")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "coinfall")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	if c.DBAdapter == "postgres" {
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	}

	if c.DBAdapter == "sqlite" && c.SQLiteFile == "" {
		return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
	}

	// Launch-data validation and the bot both need the Telegram token.
	if c.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}

	env := strings.ToLower(c.AppEnv)
	if env == "production" || env == "prod" {
		if c.JwtSecret == "" || c.JwtSecret == "change-me" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
	}

	if c.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
