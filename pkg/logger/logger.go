/*
Copyright 2022 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logger holds the structured debug logger used to trace provider calls.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel is the environment variable that sets the initial log level.
const EnvLevel = "KCSTORE_LOG_LEVEL"

type loggerKey struct{}

var globalLogger zerolog.Logger

func init() {
	level, err := zerolog.ParseLevel(os.Getenv(EnvLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	globalLogger = newLogger(os.Stderr).Level(level)
	log.Logger = globalLogger
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Ctx returns the logger stored in the context or the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &globalLogger
	}
	if l, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok {
		return l
	}
	return &globalLogger
}

func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetLevel updates the global log level.
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// SetLevelFromString parses the level name and updates the global log level.
func SetLevelFromString(name string) error {
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}
	SetLevel(level)
	return nil
}

// SetOutput redirects the global logger while keeping its level.
func SetOutput(w io.Writer) {
	globalLogger = newLogger(w).Level(globalLogger.GetLevel())
	log.Logger = globalLogger
}

// Info logs an info message
func Info() *zerolog.Event {
	return globalLogger.Info()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return globalLogger.Debug()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return globalLogger.Warn()
}
