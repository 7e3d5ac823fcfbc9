package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ayilmaz/creditd/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultGatewayAddr  = "https://sandbox-api.iyzipay.com"
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the creditd service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Shared secret for webhook signature verification
	// Empty disables verification, only acceptable for dev
	WebhookSecret string

	// Secret for signing service tokens used by the internal API
	ServiceTokenSecret string

	// Optional source IP allowlist for webhook deliveries
	// Empty list skips IP filtering
	AllowedIPs []string

	// Payment gateway address and credentials for checkout initiation
	GatewayAddr   string
	GatewayAPIKey string

	// Redis address for the balance read cache, empty disables it
	RedisAddr string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		GatewayAddr: defaultGatewayAddr,
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

	setStrings := func(o *[]string) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}

			var values []string
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
			*o = values
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"WEBHOOK_SECRET":       setString(&c.WebhookSecret),
		"SERVICE_TOKEN_SECRET": setString(&c.ServiceTokenSecret),
		"WEBHOOK_ALLOWED_IPS":  setStrings(&c.AllowedIPs),
		"GATEWAY_ADDRESS":      setString(&c.GatewayAddr),
		"GATEWAY_API_KEY":      setString(&c.GatewayAPIKey),
		"REDIS_ADDR":           setString(&c.RedisAddr),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("creditd", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.WebhookSecret, "webhook-secret", "w", c.WebhookSecret, "Webhook signature secret")
	fs.StringVarP(&c.ServiceTokenSecret, "token-secret", "s", c.ServiceTokenSecret, "Service token signing secret")
	fs.StringSliceVar(&c.AllowedIPs, "allowed-ips", c.AllowedIPs, "Webhook source IP allowlist")
	fs.StringVarP(&c.GatewayAddr, "gateway", "g", c.GatewayAddr, "Payment gateway address")
	fs.StringVar(&c.GatewayAPIKey, "gateway-api-key", c.GatewayAPIKey, "Payment gateway API key")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for balance cache")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
