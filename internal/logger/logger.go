package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	instance *Logger
	once     sync.Once
)

type Logger struct {
	logger     zerolog.Logger
	mu         sync.RWMutex
	level      zerolog.Level
	fileWriter *lumberjack.Logger
}

type Config struct {
	Level      string    `mapstructure:"level"`
	Console    bool      `mapstructure:"console"`
	File       bool      `mapstructure:"file"`
	FilePath   string    `mapstructure:"file_path"`
	MaxSize    int       `mapstructure:"max_size"` // megabytes
	MaxBackups int       `mapstructure:"max_backups"`
	MaxAge     int       `mapstructure:"max_age"` // days
	Compress   bool      `mapstructure:"compress"`
	JSONFormat bool      `mapstructure:"json"`
	Caller     bool      `mapstructure:"caller"`
	Output     io.Writer `mapstructure:"-"` // overrides stdout for the console writer
}

func Get() *Logger {
	once.Do(func() {
		instance = &Logger{}
		instance.initialize(DefaultConfig())
	})
	return instance
}

func Initialize(cfg Config) {
	Get().initialize(cfg)
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(DataDir(), "logs", "beak.log"),
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
		JSONFormat: false,
		Caller:     false,
	}
}

func (l *Logger) initialize(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	l.level = level

	if l.fileWriter != nil {
		l.fileWriter.Close()
		l.fileWriter = nil
	}

	var outputs []io.Writer
	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSONFormat {
			outputs = append(outputs, out)
		} else {
			outputs = append(outputs, zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: "15:04:05.000",
				NoColor:    cfg.Output != nil,
				FormatLevel: func(i interface{}) string {
					return strings.ToUpper(fmt.Sprintf("%-5s", i))
				},
			})
		}
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		} else {
			l.fileWriter = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			outputs = append(outputs, l.fileWriter)
		}
	}

	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}

	l.logger = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	if cfg.Caller {
		l.logger = l.logger.With().CallerWithSkipFrameCount(4).Logger()
	}

	log.Logger = l.logger
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		event = field.Apply(event)
	}
	event.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log(l.logger.Fatal(), msg, fields)
}

// WithField returns a child logger that stamps every event with key=value.
func (l *Logger) WithField(key string, value interface{}) *LoggerContext {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LoggerContext{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) SetLevel(level string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	l.level = lvl
	l.logger = l.logger.Level(lvl)
	log.Logger = l.logger
	return nil
}

func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level.String()
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileWriter != nil {
		err := l.fileWriter.Close()
		l.fileWriter = nil
		return err
	}
	return nil
}

// LoggerContext is a component-scoped logger.
type LoggerContext struct {
	logger zerolog.Logger
}

func (lc *LoggerContext) Debug(msg string, fields ...Field) {
	Get().log(lc.logger.Debug(), msg, fields)
}

func (lc *LoggerContext) Info(msg string, fields ...Field) {
	Get().log(lc.logger.Info(), msg, fields)
}

func (lc *LoggerContext) Warn(msg string, fields ...Field) {
	Get().log(lc.logger.Warn(), msg, fields)
}

func (lc *LoggerContext) Error(msg string, fields ...Field) {
	Get().log(lc.logger.Error(), msg, fields)
}

type Field struct {
	Key   string
	Value interface{}
}

func (f Field) Apply(event *zerolog.Event) *zerolog.Event {
	if err, ok := f.Value.(error); ok {
		return event.AnErr(f.Key, err)
	}
	return event.Interface(f.Key, f.Value)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Package-level convenience functions
func Debug(msg string, fields ...Field) {
	Get().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	Get().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	Get().Warn(msg, fields...)
}

func ErrorLog(msg string, fields ...Field) {
	Get().Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	Get().Fatal(msg, fields...)
}

func WithField(key string, value interface{}) *LoggerContext {
	return Get().WithField(key, value)
}

// DataDir is the per-user directory for logs and other runtime files.
func DataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "Beak")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Beak")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "beak")
}
