// Package logging configures the process-wide structured logger and the
// hex-dump helper the §6.3 Logging group's ClientBinary/ServerBinary
// toggles gate.
package logging

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
)

// Configure builds the process-wide slog.Logger. debug (set by the -D
// flag, §6.4) lowers the level to Debug; otherwise Info.
func Configure(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.Writer(os.Stderr), &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// HexDump renders data the way the ClientBinary/ServerBinary logging
// toggles want it: a conventional offset/hex/ASCII dump.
func HexDump(data []byte) string {
	return hex.Dump(data)
}
