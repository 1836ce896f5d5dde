package config

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/petervdpas/lsnp/internal/util"
)

type Config struct {
	Profile     Profile     `json:"profile"`
	Network     Network     `json:"network"`
	Tokens      Tokens      `json:"tokens"`
	Reliability Reliability `json:"reliability"`
	Files       Files       `json:"files"`
	Log         Log         `json:"log"`
}

type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`

	// Optional image announced in PROFILE messages. Relative to the
	// working directory. Empty means no avatar.
	AvatarFile string `json:"avatar_file"`
}

type Network struct {
	Port int `json:"port"`

	// Broadcast destination. Empty means auto-detect from the local
	// interface's netmask.
	BroadcastAddr string `json:"broadcast_addr"`

	// Seconds between periodic presence broadcasts.
	BroadcastSec int `json:"broadcast_seconds"`
}

type Tokens struct {
	TTLSec int64 `json:"ttl_seconds"`
}

type Reliability struct {
	AckTimeoutSec int `json:"ack_timeout_seconds"`
	MaxAttempts   int `json:"max_attempts"`
}

type Files struct {
	DownloadDir string `json:"download_dir"`
	ChunkSize   int    `json:"chunk_size"`
}

type Log struct {
	Verbose bool   `json:"verbose"`
	Level   string `json:"level"`
}

func Default() Config {
	return Config{
		Profile: Profile{
			Username:    "",
			DisplayName: "",
			Status:      "Exploring LSNP!",
		},
		Network: Network{
			Port:         50999,
			BroadcastSec: 30,
		},
		Tokens: Tokens{
			TTLSec: 3600,
		},
		Reliability: Reliability{
			AckTimeoutSec: 2,
			MaxAttempts:   3,
		},
		Files: Files{
			DownloadDir: "downloads",
			ChunkSize:   1024,
		},
		Log: Log{
			Verbose: false,
			Level:   "error",
		},
	}
}

func (c *Config) Validate() error {
	// Profile
	if u := c.Profile.Username; u != "" {
		if strings.ContainsAny(u, " @|\n") {
			return errors.New("profile.username must not contain spaces, '@', '|' or newlines")
		}
	}

	// Network
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return errors.New("network.port must be 0..65535")
	}
	if b := strings.TrimSpace(c.Network.BroadcastAddr); b != "" {
		if net.ParseIP(b) == nil {
			return errors.New("network.broadcast_addr must be a valid IP address")
		}
	}
	if c.Network.BroadcastSec <= 0 {
		return errors.New("network.broadcast_seconds must be > 0")
	}

	// Tokens
	if c.Tokens.TTLSec <= 0 {
		return errors.New("tokens.ttl_seconds must be > 0")
	}

	// Reliability
	if c.Reliability.AckTimeoutSec <= 0 {
		return errors.New("reliability.ack_timeout_seconds must be > 0")
	}
	if c.Reliability.MaxAttempts <= 0 {
		return errors.New("reliability.max_attempts must be > 0")
	}

	// Files
	if strings.TrimSpace(c.Files.DownloadDir) == "" {
		return errors.New("files.download_dir is required")
	}
	if c.Files.ChunkSize <= 0 {
		return errors.New("files.chunk_size must be > 0")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
