// Package logger provides structured logging functionality for the application
// using Go's standard library log/slog package. It configures the JSON handler,
// carries scoped loggers through context, and stamps request and job
// attributes stored in the context onto every record.
package logger
