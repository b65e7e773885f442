// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the sandbox engine as three MCP tools built
// on the mark3labs/mcp-go library:
//
//   - ensure_sandbox provisions (or reuses) the schema of an identity and problem
//   - run_query executes a read-only statement inside that schema
//   - grade_submission executes a statement and grades its output
//
// Classified failures are returned as tool results flagged IsError whose text
// starts with the failure kind, e.g. "TIMEOUT: ...".
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, provisioner, executor, grader)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
