// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Loggers travel through request and execution
// contexts via WithLogger and FromContext so that attributes such as trace and
// token identifiers follow the work they describe.
package logger
