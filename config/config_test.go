package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 50, cfg.HistoryConfig.Limit)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, ":memory:", cfg.PersistenceConfig.DSN)
	assert.Equal(t, 5*time.Second, cfg.PersistenceConfig.Timeout)
	assert.Equal(t, 5, cfg.PersistenceConfig.ConnectAttempts)
	assert.Equal(t, 24*time.Hour, cfg.AuthConfig.TokenTTL)
	assert.Equal(t, 12, cfg.AuthConfig.BcryptCost)
	assert.Equal(t, 2000, cfg.ChatConfig.MaxMessageLength)
	assert.False(t, cfg.ChatConfig.BroadcastPosted)
}

func TestReadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	main := `
addr = "0.0.0.0:9000"
log_level = "DEBUG"

[history]
limit = 20
cache_rooms = 8

[persistence]
type = "gorm"
driver = "sqlite"
dsn = "rooms.db"
timeout = "2s"
`
	chat := `
[auth]
jwt_secret = "s3cret"
allow_guests = true

[[auth.oidc]]
name = "google"
provider_url = "https://accounts.google.com"

[chat]
typing_rate = 2.5
broadcast_posted = true
allowed_origins = ["http://localhost:5173"]
accept_filter = "Length < 100"
`
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "00-main.toml"), []byte(main), 0o600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "10-chat.toml"), []byte(chat), 0o600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("addr = 1"), 0o600))

	cfg, err := ReadConfiguration(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 20, cfg.HistoryConfig.Limit)
	assert.Equal(t, 8, cfg.HistoryConfig.CacheRooms)
	assert.Equal(t, PersistenceConfig{Type: "gorm", Driver: "sqlite", DSN: "rooms.db", Timeout: 2 * time.Second}, cfg.PersistenceConfig)
	assert.Equal(t, "s3cret", cfg.AuthConfig.JWTSecret)
	assert.True(t, cfg.AuthConfig.AllowGuests)
	require.Len(t, cfg.AuthConfig.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.AuthConfig.OIDCConfigs[0].Name)
	assert.Equal(t, 2.5, cfg.ChatConfig.TypingRate)
	assert.Equal(t, 1, cfg.ChatConfig.TypingBurst)
	assert.True(t, cfg.ChatConfig.BroadcastPosted)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.ChatConfig.AllowedOrigins)
	assert.Equal(t, "Length < 100", cfg.ChatConfig.AcceptFilter)
}

func TestReadConfigurationFlagsAndEnv(t *testing.T) {
	os.Setenv("LSROOMS_AUTH_JWT_SECRET", "from-env")
	defer os.Unsetenv("LSROOMS_AUTH_JWT_SECRET")

	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--addr", "127.0.0.1:1234", "--log-level", "WARN"}))
	cfg, err := ReadConfiguration("", flagSet)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Addr)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.AuthConfig.JWTSecret)
}

func TestReadConfigurationMissingFile(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, ioutil.WriteFile(path, []byte("LSROOMS_PERSISTENCE_TYPE=redis\n"), 0o600))
	defer os.Unsetenv("LSROOMS_PERSISTENCE_TYPE")

	require.NoError(t, LoadEnvFile(path))
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.PersistenceConfig.Type)
	assert.NoError(t, LoadEnvFile(""))
}
