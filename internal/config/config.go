package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"pearchat/internal/chat"
)

const (
	EnvBaseURL = "PEAR_GENIUS_URL"
	EnvAPIKey  = "OPENROUTER_API_KEY"
	EnvScope   = "PEARCHAT_SCOPE"

	DefaultBaseURL    = chat.DefaultBaseURL
	DefaultServerAddr = "localhost:8000"
	DefaultModel      = "google/gemini-3-flash-preview"
	DefaultLLMBaseURL = "https://openrouter.ai/api/v1"
)

// Config is the on-disk configuration, ~/.config/pearchat/config.yaml.
type Config struct {
	BaseURL string       `yaml:"base_url"`
	DBPath  string       `yaml:"db_path"`
	LogPath string       `yaml:"log_path"`
	Scope   string       `yaml:"scope"`
	Server  ServerConfig `yaml:"server"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Model          string   `yaml:"model"`
	LLMBaseURL     string   `yaml:"llm_base_url"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Offline answers with the echo responder instead of calling a model.
	Offline bool `yaml:"offline"`
}

// Dir is the pearchat directory under the user's config directory.
func Dir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", err
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "pearchat"), nil
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Default() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Server: ServerConfig{
			Addr:           DefaultServerAddr,
			Model:          DefaultModel,
			LLMBaseURL:     DefaultLLMBaseURL,
			AllowedOrigins: []string{"http://localhost:*"},
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. An empty path means DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.fillPaths()
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv(EnvScope); v != "" {
		c.Scope = v
	}
}

func (c *Config) fillPaths() error {
	if c.DBPath != "" && c.LogPath != "" {
		return nil
	}
	dir, err := Dir()
	if err != nil {
		return err
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(dir, "pearchat.db")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(dir, "pearchat.log")
	}
	return nil
}

// ResolvedScope is the snapshot key for this run. Without an explicit scope
// it is tied to the parent process, so restarting the client from the same
// shell picks the conversation back up while a new shell starts fresh.
func (c Config) ResolvedScope() string {
	if c.Scope != "" {
		return c.Scope
	}
	return "ppid-" + strconv.Itoa(os.Getppid())
}
