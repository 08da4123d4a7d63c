// Package storage persists subscriptions and Planka credentials.
//
// Two backends are available:
//   - "sqlite": a database file opened with WAL and busy-retry transactions
//   - "file": an in-memory map, optionally journaled to disk (jsonl + snapshot)
//
// Passwords are sealed with NaCl secretbox when a secret key is configured.
package storage
