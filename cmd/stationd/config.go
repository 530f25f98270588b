package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/lavaops/stationd/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8080"
	defaultBackendAddr  = "http://localhost:8000"
	defaultReaderAddr   = "localhost:4001"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address the local bridge API listens on, loopback in production
	ListenAddr string

	// Backend service base URL to authenticate against
	BackendAddr string

	// RFID reader TCP address
	ReaderAddr string

	// Database to keep station state in
	// When empty the station picks Redis or plain memory instead
	DatabaseDSN string

	// Redis address for token storage, used when no database is set
	RedisAddr string

	// Secret key
	// Tokens at rest are sealed with a key derived from it
	SecretKey string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		BackendAddr: defaultBackendAddr,
		ReaderAddr:  defaultReaderAddr,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":     setString(&c.ListenAddr),
		"BACKEND_ADDRESS": setString(&c.BackendAddr),
		"READER_ADDRESS":  setString(&c.ReaderAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"REDIS_ADDR":      setString(&c.RedisAddr),
		"SECRET_KEY":      setString(&c.SecretKey),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("stationd", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Bridge API listen address")
	fs.StringVarP(&c.BackendAddr, "backend", "b", c.BackendAddr, "Backend service base URL")
	fs.StringVarP(&c.ReaderAddr, "reader", "r", c.ReaderAddr, "RFID reader TCP address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for token storage")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key sealing stored tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
