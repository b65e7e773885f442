// Package logger provides structured logging capabilities.
//
// The logger package sets up the application's zap logger. Logs always go
// to stderr so they never interleave with the MCP stdio transport.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
