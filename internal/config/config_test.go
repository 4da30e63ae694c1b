package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testConfig = `
server:
  port: "8080"

database:
  user: payments
  password: secret
  name: payments
  host: localhost
  port: "5432"
  ssl-mode: disable

gateway:
  base-url: https://api.gateway.example.com
  secret-key: sk_test
  public-key: pk_test
  timeout-ms: 5000

sweeper:
  interval-ms: 120000
  grace-period-ms: 300000
  batch-size: 50
  max-attempts: 5
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0o644)
	assert.NoError(t, err)

	cfg, err := LoadConfig(dir)
	assert.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "payments", cfg.Database.User)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "https://api.gateway.example.com", cfg.Gateway.BaseURL)
	assert.Equal(t, 5000, cfg.Gateway.TimeoutMs)
	assert.Equal(t, 300000, cfg.Sweeper.GracePeriodMs)
	assert.Equal(t, 50, cfg.Sweeper.BatchSize)
	assert.Equal(t, 5, cfg.Sweeper.MaxAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}
