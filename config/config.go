/*
Package config loads service configuration from the environment.

  A .env file in the working directory is read first when present; real
  environment variables win over it. Defaults are in the struct tags.

STORES:
  sqlite (default)  DB_PATH, ":memory:" for a throwaway database
  mongo             MONGO_URI + MONGO_DATABASE, needs a replica set
  memory            process-local, lost on exit
*/
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port  int    `envconfig:"PORT" default:"8080"`
	Store string `envconfig:"STORE" default:"sqlite"`

	DBPath        string `envconfig:"DB_PATH" default:"enrollment.db"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"WayOfTheDragonDB"`

	AccessTokenSecret string `envconfig:"ACCESS_TOKEN_SECRET"`

	MidtransServerKey  string        `envconfig:"MIDTRANS_SERVER_KEY"`
	MidtransProduction bool          `envconfig:"MIDTRANS_PRODUCTION" default:"false"`
	Currency           string        `envconfig:"CURRENCY" default:"USD"`
	GatewayTimeout     time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	SweepEnabled  bool          `envconfig:"SWEEP_ENABLED" default:"true"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`

	// Empty AMQPURL disables event publishing.
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"enrollment"`
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings every command depends on.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required when STORE=mongo")
		}
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Store)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	return nil
}

// RequireSecret is checked by commands that verify or issue tokens.
func (c Config) RequireSecret() error {
	if c.AccessTokenSecret == "" {
		return errors.New("config: ACCESS_TOKEN_SECRET is required")
	}
	return nil
}
