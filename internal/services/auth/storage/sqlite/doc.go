// Package sqlite implements auth storage over a single SQLite database file.
package sqlite
