// Package config handles daemon configuration file management.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/austinkregel/local-media/streamd/internal/logger"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "STREAMD_"

// Config represents the daemon configuration
type Config struct {
	// DataDir is where persisted playback state lives
	DataDir string `json:"dataDir" env:"DATA_DIR"`

	Audio    AudioConfig    `json:"audio" envPrefix:"AUDIO_"`
	Sources  SourcesConfig  `json:"sources" envPrefix:"SOURCES_"`
	Playback PlaybackConfig `json:"playback" envPrefix:"PLAYBACK_"`
	Store    StoreConfig    `json:"store" envPrefix:"STORE_"`
	Log      logger.Config  `json:"log"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate" env:"SAMPLE_RATE"`

	Channels int `json:"channels" env:"CHANNELS"`

	// Volume level 0.0 - 1.0 (default: 1.0)
	DefaultVolume float64 `json:"defaultVolume" env:"DEFAULT_VOLUME"`

	LockTimeout  Duration `json:"lockTimeout" env:"LOCK_TIMEOUT"`
	SeekDebounce Duration `json:"seekDebounce" env:"SEEK_DEBOUNCE"`
}

// SourcesConfig points at the catalogs used for URL and lyric resolution
type SourcesConfig struct {
	NeteaseAPI     string   `json:"neteaseApi" env:"NETEASE_API"`
	UnblockAPI     string   `json:"unblockApi" env:"UNBLOCK_API"`
	KuwoAPI        string   `json:"kuwoApi" env:"KUWO_API"`
	EnableUnblock  bool     `json:"enableUnblock" env:"ENABLE_UNBLOCK"`
	UnblockTimeout Duration `json:"unblockTimeout" env:"UNBLOCK_TIMEOUT"`
	RequestTimeout Duration `json:"requestTimeout" env:"REQUEST_TIMEOUT"`
	MaxRetries     int      `json:"maxRetries" env:"MAX_RETRIES"`
	Quality        string   `json:"quality" env:"QUALITY"`
	// UserID enables server side favorites sync when set
	UserID string `json:"userId,omitempty" env:"USER_ID"`
	Cookie string `json:"cookie,omitempty" env:"COOKIE"`
}

// PlaybackConfig contains behavior-related settings
type PlaybackConfig struct {
	// AutoPlay resumes the last track on daemon start
	AutoPlay     bool     `json:"autoPlay" env:"AUTO_PLAY"`
	PreloadDelay Duration `json:"preloadDelay" env:"PRELOAD_DELAY"`
	LockRetry    Duration `json:"lockRetryDelay" env:"LOCK_RETRY_DELAY"`
}

// StoreConfig selects where playback state is persisted
type StoreConfig struct {
	// Backend is "file" or "redis"
	Backend       string `json:"backend" env:"BACKEND"`
	RedisAddr     string `json:"redisAddr,omitempty" env:"REDIS_ADDR"`
	RedisPassword string `json:"redisPassword,omitempty" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" env:"REDIS_DB"`
	RedisPrefix   string `json:"redisPrefix" env:"REDIS_PREFIX"`
}

// Duration is a time.Duration that reads and writes as a Go duration string
type Duration time.Duration

// Std returns the standard library duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText lets caarlos0/env parse STREAMD_*_TIMEOUT=7s
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    44100,
			Channels:      2,
			DefaultVolume: 1.0,
			LockTimeout:   Duration(5 * time.Second),
			SeekDebounce:  Duration(300 * time.Millisecond),
		},
		Sources: SourcesConfig{
			NeteaseAPI:     "http://localhost:3000",
			UnblockAPI:     "http://localhost:3000",
			KuwoAPI:        "https://kw-api.cenguigui.cn",
			EnableUnblock:  true,
			UnblockTimeout: Duration(7 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
			MaxRetries:     5,
			Quality:        "exhigh",
		},
		Playback: PlaybackConfig{
			AutoPlay:     false,
			PreloadDelay: Duration(3 * time.Second),
			LockRetry:    Duration(time.Second),
		},
		Store: StoreConfig{
			Backend:     "file",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "streamd:",
		},
		Log: logger.DefaultConfig(),
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.RWMutex
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, then applies .env and STREAMD_* overrides.
// Overrides are never written back to config.json.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		if err := m.save(DefaultConfig()); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnv(m.configDir, cfg); err != nil {
		return err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = m.configDir
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func applyEnv(dir string, cfg *Config) error {
	// a missing .env is the normal case
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()
	return m.save(cfg)
}

func (m *Manager) save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update updates the configuration and saves it
func (m *Manager) Update(config *Config) error {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return m.save(config)
}

// Watch reloads the configuration whenever config.json changes and hands the
// new value to onChange. It blocks until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace the file, so watch the directory
	if err := watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.configPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := m.Load(); err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onChange != nil {
				onChange(m.Get())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
