// Package storage defines persistence contracts for the auth service.
//
// The interfaces here are pure data access: no business logic, no retries.
// Storage failures surface to callers unchanged, and callers translate them
// at the transport boundary.
package storage
