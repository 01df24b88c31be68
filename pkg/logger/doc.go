// Package logger builds configured slog.Logger instances with json/text
// formats and common attribute helpers used across the service.
package logger
