package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger. InitLogger must be called before use.
var Log *zap.Logger = zap.NewNop()

type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

func InitLogger(level, format string) error {
	return InitLoggerWithFile(level, format, FileOptions{})
}

// InitLoggerWithFile configures the global logger. When opts.Path is set,
// output goes to a size-rotated file instead of stderr.
func InitLoggerWithFile(level, format string, opts FileOptions) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoderCfg zapcore.EncoderConfig
	if format == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.Path != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
	} else {
		sink = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(encoder, sink, lvl)
	Log = zap.New(core, zap.AddCaller())
	return nil
}

func Sync() {
	_ = Log.Sync()
}
