/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. Development gets a console
// writer at debug level, everything else structured JSON at info.
func Setup(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	writer := zerolog.New(os.Stdout)
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	logger := writer.With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
