// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel normalizes a user supplied level. An empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error", "err":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
}

// Options controls logger formatting. Writer defaults to stderr.
type Options struct {
	Level       string
	JSON        bool
	Development bool
	Writer      io.Writer
}

// New constructs a logger from opt.
func New(opt Options) (*zap.Logger, error) {
	level, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	if opt.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opt.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	zopts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if opt.Development || level == zapcore.DebugLevel {
		zopts = append(zopts, zap.AddCaller())
	}
	if opt.Development {
		zopts = append(zopts, zap.Development())
	}
	return zap.New(core, zopts...), nil
}
