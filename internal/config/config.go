package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/beak-audio/beak/internal/logger"
)

type Config struct {
	Audio  AudioConfig   `mapstructure:"audio"`
	Engine EngineConfig  `mapstructure:"engine"`
	Log    logger.Config `mapstructure:"log"`
	v      *viper.Viper
	mu     sync.RWMutex
}

type AudioConfig struct {
	Backend     string        `mapstructure:"backend"` // auto, portaudio, oto, dummy
	Device      string        `mapstructure:"device"`
	Inputs      int           `mapstructure:"inputs"`
	Outputs     int           `mapstructure:"outputs"`
	SampleRate  int           `mapstructure:"sample_rate"`
	BlockSize   int           `mapstructure:"block_size"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type EngineConfig struct {
	MaxTransients int           `mapstructure:"max_transients"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	RemovalQueue  int           `mapstructure:"removal_queue"`
}

// Load reads configuration from path, or from the default search path when
// path is empty. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	c := &Config{v: viper.New()}
	c.setDefaults()

	if path != "" {
		c.v.SetConfigFile(path)
	} else {
		c.v.SetConfigName("beak")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(UserConfigDir())
		c.v.AddConfigPath(SystemConfigDir())
		c.v.AddConfigPath(".")
	}

	c.v.SetEnvPrefix("BEAK")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			logger.Debug("No configuration file found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := c.v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	c.v.SetDefault("audio.backend", "auto")
	c.v.SetDefault("audio.device", "")
	c.v.SetDefault("audio.inputs", 0)
	c.v.SetDefault("audio.outputs", 2)
	c.v.SetDefault("audio.sample_rate", 44100)
	c.v.SetDefault("audio.block_size", 512)
	c.v.SetDefault("audio.open_timeout", 5*time.Second)

	c.v.SetDefault("engine.max_transients", 64)
	c.v.SetDefault("engine.reap_interval", 50*time.Millisecond)
	c.v.SetDefault("engine.watch_interval", 500*time.Millisecond)
	c.v.SetDefault("engine.removal_queue", 256)

	def := logger.DefaultConfig()
	c.v.SetDefault("log.level", def.Level)
	c.v.SetDefault("log.console", def.Console)
	c.v.SetDefault("log.file", def.File)
	c.v.SetDefault("log.file_path", def.FilePath)
	c.v.SetDefault("log.max_size", def.MaxSize)
	c.v.SetDefault("log.max_backups", def.MaxBackups)
	c.v.SetDefault("log.max_age", def.MaxAge)
	c.v.SetDefault("log.compress", def.Compress)
	c.v.SetDefault("log.json", def.JSONFormat)
	c.v.SetDefault("log.caller", def.Caller)
}

// AudioSnapshot returns the current audio section.
func (c *Config) AudioSnapshot() AudioConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio
}

// EngineSnapshot returns the current engine section.
func (c *Config) EngineSnapshot() EngineConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Engine
}

// Watch reloads the file on change and calls onAudioChange whenever the
// audio section differs from the previous one.
func (c *Config) Watch(onAudioChange func(AudioConfig)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.mu.Lock()
		before := c.Audio
		if err := c.v.Unmarshal(c); err != nil {
			c.mu.Unlock()
			logger.Warn("Failed to reload config",
				logger.String("file", e.Name),
				logger.Error(err),
			)
			return
		}
		after := c.Audio
		c.mu.Unlock()

		logger.Info("Configuration reloaded", logger.String("file", e.Name))
		if after != before && onAudioChange != nil {
			onAudioChange(after)
		}
	})
	c.v.WatchConfig()
}

// File returns the path of the configuration file in use, if any.
func (c *Config) File() string {
	return c.v.ConfigFileUsed()
}

// SaveAs writes the effective configuration to path.
func (c *Config) SaveAs(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return c.v.WriteConfigAs(path)
}

func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
	_ = c.v.Unmarshal(c)
}

func UserConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "Beak")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "beak")
}

func SystemConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "Beak")
	}
	return "/etc/beak"
}
