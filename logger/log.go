package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)

	encCfg = zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	stdout zapcore.Core
)

func init() {
	stdout = zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)
	Log = zap.New(stdout, zap.AddCaller())
}

// FileOptions 日志文件滚动配置
type FileOptions struct {
	Path       string `yaml:"path"`       // empty => stdout only
	MaxSizeMB  int    `yaml:"maxSizeMb"`  // <=0 => 100
	MaxBackups int    `yaml:"maxBackups"` // 0 keeps all
	MaxAgeDays int    `yaml:"maxAgeDays"` // 0 keeps all
	Compress   bool   `yaml:"compress"`
}

// SetFile tees Log into a size-rotated JSON file. Call it before components
// take their Named loggers; loggers derived earlier keep writing to stdout only.
func SetFile(f FileOptions) {
	if f.Path == "" {
		return
	}
	if f.MaxSizeMB <= 0 {
		f.MaxSizeMB = 100
	}
	w := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	}
	fileCfg := encCfg
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	file := zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(w), level)
	Log = zap.New(zapcore.NewTee(stdout, file), zap.AddCaller())
}

// SetLevel changes the level of every logger derived from Log.
// Unknown names leave the level unchanged and return an error.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

// Named returns a component logger.
func Named(name string) *zap.Logger { return Log.Named(name) }

// OrNamed returns l, or a component logger when l is nil.
func OrNamed(l *zap.Logger, name string) *zap.Logger {
	if l != nil {
		return l
	}
	return Named(name)
}

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }

// Sync flushes buffered entries; call before the process exits.
func Sync() { _ = Log.Sync() }
