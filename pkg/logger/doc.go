// Package logger builds the application's slog logger: text output in
// development, JSON in production, optionally written to a log file.
package logger
