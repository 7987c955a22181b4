package app

import (
	"io"
	"log/slog"
)

// newLogger builds the logger a reduction (or live feed) runs with. It
// writes to the application's output writer and never touches the global
// slog default, so concurrent pipelines keep their logs separate.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}

	// JSON is for ingestion by facility log tooling; text is the default
	// for interactive reductions.
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

// parseLevel maps the CLI level names onto slog levels. Unknown names fall
// back to info; the CLI rejects them before they get here.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
