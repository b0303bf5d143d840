// Package store provides durable storage for the validation engine:
// run results, the privacy budget ledger, and budget reservations.
//
// Storage is SQLite with WAL mode. The budget accountant (package budget)
// and the result adapter (results.go) are the only writers; each owns its
// tables exclusively. Dataset tables live in a separate database handled
// by package dataset.
package store
