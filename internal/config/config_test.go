package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50999, cfg.Network.Port)
	assert.Equal(t, 3, cfg.Reliability.MaxAttempts)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"username with space", func(c *Config) { c.Profile.Username = "two words" }},
		{"username with at", func(c *Config) { c.Profile.Username = "a@b" }},
		{"bad port", func(c *Config) { c.Network.Port = 70000 }},
		{"bad broadcast addr", func(c *Config) { c.Network.BroadcastAddr = "not-an-ip" }},
		{"zero broadcast period", func(c *Config) { c.Network.BroadcastSec = 0 }},
		{"zero ttl", func(c *Config) { c.Tokens.TTLSec = 0 }},
		{"zero ack timeout", func(c *Config) { c.Reliability.AckTimeoutSec = 0 }},
		{"empty download dir", func(c *Config) { c.Files.DownloadDir = " " }},
		{"zero chunk size", func(c *Config) { c.Files.ChunkSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lsnp.json")

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	cfg.Profile.Username = "dave"
	require.NoError(t, Save(path, cfg))

	again, created, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "dave", again.Profile.Username)
}

func TestLoadStripsBOMAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lsnp.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"profile":{"username":"eve"}}`)...)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eve", cfg.Profile.Username)
	assert.Equal(t, 50999, cfg.Network.Port, "missing fields fall back to defaults")
}

func TestWatchPicksUpRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lsnp.json")
	require.NoError(t, Save(path, Default()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Config, 1)
	require.NoError(t, Watch(ctx, path, func(c Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil))

	cfg := Default()
	cfg.Profile.Username = "frank"
	require.NoError(t, Save(path, cfg))

	select {
	case got := <-changed:
		assert.Equal(t, "frank", got.Profile.Username)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
