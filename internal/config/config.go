// Package config loads client and server settings. Values are layered:
// built-in defaults, then an optional TOML file, then environment variables.
package config

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/omochice/chatstream/internal/logging"
	"github.com/omochice/chatstream/internal/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ClientEnvPrefix = "CHATSTREAM_"
	ServerEnvPrefix = "CHATSTREAM_SERVER_"

	DefaultEndpoint            = "ws://localhost:8765"
	DefaultDialTimeout         = 5 * time.Second
	DefaultReconnectMaxElapsed = 2 * time.Minute
)

// Client holds chatstream client settings.
type Client struct {
	Endpoint            string        `toml:"endpoint" env:"ENDPOINT"`
	StorePath           string        `toml:"store_path" env:"STORE_PATH"`
	DialTimeout         time.Duration `toml:"dial_timeout" env:"DIAL_TIMEOUT"`
	TurnTimeout         time.Duration `toml:"turn_timeout" env:"TURN_TIMEOUT"`
	Reconnect           bool          `toml:"reconnect" env:"RECONNECT"`
	ReconnectMaxElapsed time.Duration `toml:"reconnect_max_elapsed" env:"RECONNECT_MAX_ELAPSED"`
	ServerTurns         bool          `toml:"server_turns" env:"SERVER_TURNS"`
	LogLevel            string        `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat           string        `toml:"log_format" env:"LOG_FORMAT"`
}

// Server holds reference backend settings.
type Server struct {
	Addr       string        `toml:"addr" env:"ADDR"`
	ChunkSize  int           `toml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkDelay time.Duration `toml:"chunk_delay" env:"CHUNK_DELAY"`
	Greeting   string        `toml:"greeting" env:"GREETING"`
	LogLevel   string        `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat  string        `toml:"log_format" env:"LOG_FORMAT"`
}

// DefaultClient returns the built-in client settings.
func DefaultClient() Client {
	return Client{
		Endpoint:            DefaultEndpoint,
		StorePath:           DefaultStorePath(),
		DialTimeout:         DefaultDialTimeout,
		ReconnectMaxElapsed: DefaultReconnectMaxElapsed,
		ServerTurns:         true,
		LogLevel:            zerolog.InfoLevel.String(),
		LogFormat:           logging.FormatConsole,
	}
}

// DefaultServer returns the built-in backend settings.
func DefaultServer() Server {
	d := server.DefaultConfig()
	return Server{
		Addr:       d.Addr,
		ChunkSize:  d.ChunkSize,
		ChunkDelay: d.ChunkDelay,
		Greeting:   d.Greeting,
		LogLevel:   zerolog.InfoLevel.String(),
		LogFormat:  logging.FormatConsole,
	}
}

// DefaultStorePath is session.db under the user config directory.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "chatstream", "session.db")
}

// LoadDotEnv loads .env from the working directory. A missing file is not
// an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "failed to load .env")
	}
	return nil
}

// LoadClient layers path (skipped when empty) and the environment over the
// defaults and validates the result.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, ClientEnvPrefix, &cfg); err != nil {
		return Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LoadServer is LoadClient for the backend.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, ServerEnvPrefix, &cfg); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func load(path, prefix string, out interface{}) error {
	if path != "" {
		if _, err := toml.DecodeFile(path, out); err != nil {
			return errors.Wrapf(err, "failed to load config file %s", path)
		}
	}
	if err := env.ParseWithOptions(out, env.Options{Prefix: prefix}); err != nil {
		return errors.Wrap(err, "failed to parse environment")
	}
	return nil
}

// Validate checks the client settings.
func (c Client) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return errors.Wrapf(err, "invalid endpoint %q", c.Endpoint)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return errors.Errorf("invalid endpoint %q: scheme must be ws, wss, http or https", c.Endpoint)
	}
	if u.Host == "" {
		return errors.Errorf("invalid endpoint %q: missing host", c.Endpoint)
	}
	if c.StorePath == "" {
		return errors.New("store_path must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"dial_timeout":          c.DialTimeout,
		"turn_timeout":          c.TurnTimeout,
		"reconnect_max_elapsed": c.ReconnectMaxElapsed,
	} {
		if d < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	return validateLogging(c.LogLevel, c.LogFormat)
}

// Validate checks the backend settings.
func (s Server) Validate() error {
	if s.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if s.ChunkSize < 0 {
		return errors.New("chunk_size must not be negative")
	}
	if s.ChunkDelay < 0 {
		return errors.New("chunk_delay must not be negative")
	}
	return validateLogging(s.LogLevel, s.LogFormat)
}

// ServerConfig converts the settings for server.New.
func (s Server) ServerConfig() server.Config {
	return server.Config{
		Addr:       s.Addr,
		ChunkSize:  s.ChunkSize,
		ChunkDelay: s.ChunkDelay,
		Greeting:   s.Greeting,
	}
}

func validateLogging(level, format string) error {
	if _, err := zerolog.ParseLevel(level); err != nil {
		return errors.Wrapf(err, "invalid log_level %q", level)
	}
	switch format {
	case logging.FormatConsole, logging.FormatJSON:
		return nil
	default:
		return errors.Errorf("invalid log_format %q: must be %s or %s", format, logging.FormatConsole, logging.FormatJSON)
	}
}
