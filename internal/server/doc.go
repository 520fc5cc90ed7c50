// Package server implements the realtime side of pairtalk: a room-keyed
// WebSocket hub, per-connection read/write pumps, the message broadcaster,
// and the authoritative typing-timeout state machine.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
