// Package errors provides cleanup helpers that log instead of dropping errors.
package errors

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure at warn level with msg.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRemoveAll removes a directory tree and logs a failure.
// A missing path is not an error.
func DeferRemoveAll(logger zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove directory")
	}
}
