// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/blockbot/config"
)

// New returns a logger writing to stderr and, when cfg.Dir is set, to a
// per-run file logs/log-<timestamp>.txt. The returned path is empty when
// no file is written.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, string, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil && cfg.Level != "" {
		return nil, "", fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var consoleEnc zapcore.Encoder
	if cfg.Format == "json" {
		consoleEnc = zapcore.NewJSONEncoder(consoleCfg)
	} else {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(consoleCfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var path string
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create log dir: %w", err)
		}
		path = filepath.Join(cfg.Dir, "log-"+RunStamp(time.Now())+".txt")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, "", fmt.Errorf("open log file: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), path, nil
}

// RunStamp formats t for file names: ISO 8601 with ':' and '.' replaced.
func RunStamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}
