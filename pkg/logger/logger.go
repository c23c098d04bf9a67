// Package logger
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	WithStr(key, value string) Logger
	WithInt(key string, value int) Logger
	WithErr(err error) Logger
}

type logger struct {
	base zerolog.Logger
}

// New writes structured logs to w
func New(w io.Writer) Logger {
	return &logger{
		base: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// NewConsole writes human-readable logs to stdout
func NewConsole() Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stdout})
}

// NewFile writes to a rotated log file, mirrored to stdout
func NewFile(path string) Logger {
	fileWriter := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	return New(io.MultiWriter(os.Stdout, fileWriter))
}

// Discard drops all output. Used in tests.
func Discard() Logger {
	return New(io.Discard)
}

func (l *logger) Debug(msg string) { l.base.Debug().Msg(msg) }
func (l *logger) Info(msg string)  { l.base.Info().Msg(msg) }
func (l *logger) Warn(msg string)  { l.base.Warn().Msg(msg) }
func (l *logger) Error(msg string) { l.base.Error().Msg(msg) }

func (l *logger) WithStr(key, value string) Logger {
	return &logger{base: l.base.With().Str(key, value).Logger()}
}

func (l *logger) WithInt(key string, value int) Logger {
	return &logger{base: l.base.With().Int(key, value).Logger()}
}

func (l *logger) WithErr(err error) Logger {
	return &logger{base: l.base.With().Err(err).Logger()}
}
