// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
)

// RecentSize is how many records Setup keeps for the API.
const RecentSize = 512

// Setup installs a text handler on w as the default logger. debug lowers
// the level to Debug. The returned handler exposes recent records.
func Setup(w io.Writer, debug bool) *RecentHandler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := NewRecentHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), RecentSize)
	slog.SetDefault(slog.New(h))
	return h
}
