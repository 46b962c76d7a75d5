// Package stores persists the package registry table in SQLite. The schema
// is managed with embedded golang-migrate migrations; SQLiteStore implements
// engine.StateStore so the lifecycle manager writes every commit in one
// transaction before applying it in memory.
package stores
