// Package main is the entry point for the sqlbox MCP server.
//
// The server lets many learners run read-only SQL against a shared Postgres
// database, each inside a private schema seeded with a problem's sample
// tables, and grades submissions against the problem's expected output. It
// serves MCP over stdio or streamable HTTP and, when enabled, Prometheus
// metrics on a separate listener.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
