// Package lock provides the cross-process locks used to serialize sandbox
// provisioning.
//
// Noop is enough for a single process, where concurrent callers are already
// coalesced in memory. Redis holds a short-lived key per sandbox so several
// engine instances sharing one relational store never build the same
// namespace at the same time.
package lock
