package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds secrets and connection settings that stay out of the config
// file. Values come from the process environment, optionally seeded from a
// .env file.
type Env struct {
	Gateway struct {
		Broker   string `envconfig:"GATEWAY_BROKER" default:"sim"`
		Address  string `envconfig:"GATEWAY_ADDRESS"`
		UserID   string `envconfig:"GATEWAY_USER_ID"`
		Password string `envconfig:"GATEWAY_PASSWORD"`
		AppID    string `envconfig:"GATEWAY_APP_ID"`
		AuthCode string `envconfig:"GATEWAY_AUTH_CODE"`
	}

	Log struct {
		Level string `envconfig:"LOG_LEVEL" default:"info"`
	}
}

// LoadEnv reads the environment into an Env. A missing .env file is fine;
// the process environment alone is enough.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if env.Gateway.Broker != "sim" {
		if env.Gateway.UserID == "" || env.Gateway.Password == "" {
			return nil, fmt.Errorf("gateway %q requires GATEWAY_USER_ID and GATEWAY_PASSWORD", env.Gateway.Broker)
		}
	}
	return &env, nil
}
