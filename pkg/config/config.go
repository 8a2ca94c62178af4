// Package config holds the client configuration: JSON file on disk with
// environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Chat    ChatConfig    `json:"chat"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
}

type ServerConfig struct {
	APIBaseURL string `env:"TIMEPASS_API_BASE_URL" json:"api_base_url"`
	SocketURL  string `env:"TIMEPASS_SOCKET_URL"   json:"socket_url"`
}

type AuthConfig struct {
	UserID   string `env:"TIMEPASS_USER_ID"  json:"user_id"`
	Username string `env:"TIMEPASS_USERNAME" json:"username"`
	Token    string `env:"TIMEPASS_TOKEN"    json:"token,omitempty"`
}

type ChatConfig struct {
	PageSize     int      `env:"TIMEPASS_PAGE_SIZE"     json:"page_size"`
	TypingWindow Duration `env:"TIMEPASS_TYPING_WINDOW" json:"typing_window"`
}

type StorageConfig struct {
	DataDir string `env:"TIMEPASS_DATA_DIR" json:"data_dir"`
}

type LoggingConfig struct {
	Level string `env:"TIMEPASS_LOG_LEVEL" json:"level"`
	File  string `env:"TIMEPASS_LOG_FILE"  json:"file,omitempty"`
}

// Duration is a time.Duration that marshals as a string like "3s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalText lets env overrides use the same "3s" format.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIBaseURL: "http://localhost:5000",
			SocketURL:  "ws://localhost:5000/ws",
		},
		Chat: ChatConfig{
			PageSize:     20,
			TypingWindow: Duration(3 * time.Second),
		},
		Storage: StorageConfig{
			DataDir: "~/.timepass",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns ~/.timepass/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".timepass", "config.json")
}

// LoadConfig reads the file at path over the defaults, then applies env
// overrides. A missing file is not an error; env still applies.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Server.APIBaseURL == "" {
		return errors.New("server.api_base_url is required")
	}
	if c.Server.SocketURL == "" {
		return errors.New("server.socket_url is required")
	}
	if c.Chat.PageSize <= 0 {
		return errors.New("chat.page_size must be positive")
	}
	if c.Chat.TypingWindow <= 0 {
		return errors.New("chat.typing_window must be positive")
	}
	return nil
}

// DataDirPath returns the storage directory with ~ expanded.
func (c *Config) DataDirPath() string {
	return expandHome(c.Storage.DataDir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
