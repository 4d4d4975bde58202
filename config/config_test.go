package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[server]
hostname = "mx1.example.com"

[sieve]
sign = ["default", "secondary"]
use_directory = "main"

[sieve.limits]
redirects = 3
duplicate_expiry = "7d"

[sieve.scripts]
spam = "/etc/filterd/scripts/spam.sieve"
greylist = "s3://filterd/scripts/greylist.sieve"

[signers.default]
domain = "example.com"
selector = "s1"
key_file = "/etc/filterd/dkim/s1.pem"

[lookups.trusted-domains]
type = "static"
values = ["example.com", "example.org"]

[directories.main]
type = "sqlite"
path = "/var/lib/filterd/state.db"

[relay]
addr = "smtp.example.com:587"
retry_interval = "1m"
`

func TestLoadSampleConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	_, err := toml.Decode(sampleConfig, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "mx1.example.com", cfg.Server.Hostname)
	assert.Equal(t, []string{"default", "secondary"}, cfg.Sieve.Sign)
	assert.Equal(t, "main", cfg.Sieve.UseDirectory)

	require.NotNil(t, cfg.Sieve.Limits.Redirects)
	assert.Equal(t, 3, *cfg.Sieve.Limits.Redirects)
	assert.Nil(t, cfg.Sieve.Limits.OutMessages, "unset limits stay nil")

	expiry, err := cfg.Sieve.Limits.GetDuplicateExpiry()
	require.NoError(t, err)
	require.NotNil(t, expiry)
	assert.Equal(t, 7*24*time.Hour, *expiry)

	assert.Len(t, cfg.Sieve.Scripts, 2)
	assert.Equal(t, "/etc/filterd/scripts/spam.sieve", cfg.Sieve.Scripts["spam"])

	assert.Contains(t, cfg.Signers, "default")
	assert.Equal(t, "s1", cfg.Signers["default"].Selector)

	assert.Equal(t, "static", cfg.Lookups["trusted-domains"].Type)
	assert.Equal(t, "sqlite", cfg.Directories["main"].Type)

	interval, err := cfg.Relay.GetRetryInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, interval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mx1.example.com", cfg.Server.Hostname)
	assert.Equal(t, "stderr", cfg.Logging.Output, "defaults survive decode")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Relay.GetMaxAttempts())

	interval, err := cfg.Relay.GetRetryInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)

	expiry, err := cfg.Sieve.Limits.GetDuplicateExpiry()
	require.NoError(t, err)
	assert.Nil(t, expiry)
}

func TestGetDuplicateExpiryInvalid(t *testing.T) {
	l := SieveLimitsConfig{DuplicateExpiry: "not-a-duration"}
	_, err := l.GetDuplicateExpiry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sieve.limits.duplicate_expiry")
}

func TestSignerGetExpiry(t *testing.T) {
	s := SignerConfig{Expiry: "720h"}
	d, err := s.GetExpiry()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)

	s = SignerConfig{}
	d, err = s.GetExpiry()
	require.NoError(t, err)
	assert.Zero(t, d)
}
