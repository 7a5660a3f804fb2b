package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		bind:      "0.0.0.0",
		catalog:   "catalog.csv",
		port:      8080,
		retention: 24 * time.Hour,
		store:     "draftbox.db",
	}
}

func TestConfigValidate(t *testing.T) {
	req := require.New(t)

	req.NoError(validTestConfig().validate())

	cfg := validTestConfig()
	cfg.port = 0
	req.Error(cfg.validate())

	cfg = validTestConfig()
	cfg.port = 70000
	req.Error(cfg.validate())

	cfg = validTestConfig()
	cfg.tlsCert = "cert.pem"
	req.Error(cfg.validate())
	cfg.tlsKey = "key.pem"
	req.NoError(cfg.validate())

	cfg = validTestConfig()
	cfg.catalog = ""
	req.Error(cfg.validate())

	cfg = validTestConfig()
	cfg.store = ""
	req.Error(cfg.validate())

	cfg = validTestConfig()
	cfg.retention = 0
	req.Error(cfg.validate())
}

func TestConfigScheme(t *testing.T) {
	req := require.New(t)

	cfg := validTestConfig()
	req.Equal("http", cfg.scheme())

	cfg.tlsCert = "cert.pem"
	cfg.tlsKey = "key.pem"
	req.Equal("https", cfg.scheme())
}
