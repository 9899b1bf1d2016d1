// Package log provides kiln's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by the standard
// library's slog via a custom handler that preserves the formatter/outputs
// pipeline, so slog-compatible code and kiln code produce identical output.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("broker"))
//	l.Info("server started", log.Str("http", ":8080"))
//
// Use ApplyConfig to build a logger from level/format names sourced from
// flags or KILN_LOG_LEVEL / KILN_LOG_FORMAT. RedirectStdLog routes standard
// library logging (Pebble uses it) through the same pipeline.
package log
