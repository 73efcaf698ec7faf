// Package server composes and runs the auth process boundary.
//
// It opens the shared SQLite store, wires the challenge, session, and login
// managers into the HTTP API, and owns process lifecycle: startup bootstrap,
// periodic expiry cleanup, and graceful shutdown.
package server
