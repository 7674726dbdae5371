package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/auction/gateway"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Store struct {
		// Driver is "postgres" or "memory".
		Driver string `yaml:"driver"`
	} `yaml:"store"`

	Engine  auction.Config        `yaml:"engine"`
	Sweeper auction.SweeperConfig `yaml:"sweeper"`

	WebSocket gateway.ConnectionConfig `yaml:"websocket"`

	NATS struct {
		Enabled   bool                   `yaml:"enabled"`
		JetStream events.JetStreamConfig `yaml:",inline"`
	} `yaml:"nats"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = "8080"
	config.Server.ShutdownTimeout = 10 * time.Second
	config.Store.Driver = "postgres"
	config.Engine = auction.DefaultConfig()
	config.Sweeper = auction.DefaultSweeperConfig()
	config.WebSocket = gateway.DefaultConnectionConfig()
	config.NATS.JetStream = events.DefaultJetStreamConfig()
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads the YAML file at path over the defaults and then applies
// AUCTION_* environment overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("AUCTION_PORT", c.Server.Port)
	c.Server.ShutdownTimeout = getEnvAsDuration("AUCTION_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Auth.JWTSecret = getEnv("AUCTION_JWT_SECRET", c.Auth.JWTSecret)
	c.Store.Driver = getEnv("AUCTION_STORE_DRIVER", c.Store.Driver)

	c.Engine.AcquireTimeout = getEnvAsDuration("AUCTION_ACQUIRE_TIMEOUT", c.Engine.AcquireTimeout)
	c.Engine.WorkerIdleTimeout = getEnvAsDuration("AUCTION_WORKER_IDLE_TIMEOUT", c.Engine.WorkerIdleTimeout)
	c.Engine.MaxCommitRetries = getEnvAsInt("AUCTION_MAX_COMMIT_RETRIES", c.Engine.MaxCommitRetries)
	c.Engine.EventBuffer = getEnvAsInt("AUCTION_EVENT_BUFFER", c.Engine.EventBuffer)

	c.Sweeper.Interval = getEnvAsDuration("AUCTION_SWEEP_INTERVAL", c.Sweeper.Interval)
	c.Sweeper.BatchSize = getEnvAsInt("AUCTION_SWEEP_BATCH_SIZE", c.Sweeper.BatchSize)

	c.WebSocket.RequestTimeout = getEnvAsDuration("AUCTION_WS_REQUEST_TIMEOUT", c.WebSocket.RequestTimeout)
	if origins := os.Getenv("AUCTION_WS_ALLOWED_ORIGINS"); origins != "" {
		c.WebSocket.AllowedOrigins = strings.Split(origins, ",")
	}

	c.NATS.Enabled = getEnvAsBool("AUCTION_NATS_ENABLED", c.NATS.Enabled)
	c.NATS.JetStream.URL = getEnv("NATS_URL", c.NATS.JetStream.URL)
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (AUCTION_JWT_SECRET) is required")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
