// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level, destination and timestamp layout.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Output     string `json:"output" yaml:"output"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// Logger is the logging surface handed to every component.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) Logger
	SetLevel(level zerolog.Level)
}

type zeroLogger struct {
	l zerolog.Logger
}

// New builds a Logger from config.
func New(config Config) (Logger, error) {
	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = l

	return &zeroLogger{l: l}, nil
}

// Wrap adapts an existing zerolog.Logger.
func Wrap(l zerolog.Logger) Logger {
	return &zeroLogger{l: l}
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() Logger {
	return &zeroLogger{l: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}

func (z *zeroLogger) Debug() *zerolog.Event { return z.l.Debug() }
func (z *zeroLogger) Info() *zerolog.Event  { return z.l.Info() }
func (z *zeroLogger) Warn() *zerolog.Event  { return z.l.Warn() }
func (z *zeroLogger) Error() *zerolog.Event { return z.l.Error() }
func (z *zeroLogger) Fatal() *zerolog.Event { return z.l.Fatal() }
func (z *zeroLogger) With() zerolog.Context { return z.l.With() }

func (z *zeroLogger) WithComponent(component string) Logger {
	return &zeroLogger{l: z.l.With().Str("component", component).Logger()}
}

func (z *zeroLogger) SetLevel(level zerolog.Level) {
	z.l = z.l.Level(level)
}
