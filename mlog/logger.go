/*
 * Copyright (C) 2023-2025, The mailmapd authors
 *
 * This file is part of mailmapd.
 *
 * mailmapd is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mailmapd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package mlog

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, "debug" "info" "warn" "error". Default is "info".
	Level string `yaml:"level"`

	// File that logger will be writen into.
	// Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)
	lvl    = zap.NewAtomicLevelAt(zap.InfoLevel)
	l      = atomic.Pointer[zap.Logger]{}
	s      = atomic.Pointer[zap.SugaredLogger]{}
)

func init() {
	root := zap.New(zapcore.NewCore(defaultEncoder(false), stderr, &lvl))
	l.Store(root)
	s.Store(root.Sugar())
}

func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zap.DebugLevel
	case "", "info":
		level = zap.InfoLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level [%s]", cfg.Level)
	}

	out := zapcore.WriteSyncer(stderr)
	if len(cfg.File) > 0 {
		f, err := os.OpenFile(cfg.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}
	return zap.New(zapcore.NewCore(defaultEncoder(cfg.Production), out, zap.NewAtomicLevelAt(level))), nil
}

func defaultEncoder(production bool) zapcore.Encoder {
	if production {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// L returns the package root logger. It always returns a non-nil logger.
func L() *zap.Logger {
	return l.Load()
}

// SetLevel sets the level of the root logger.
func SetLevel(level zapcore.Level) {
	lvl.SetLevel(level)
}

// S returns the sugared variant of L.
func S() *zap.SugaredLogger {
	return s.Load()
}
