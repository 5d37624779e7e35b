// Package storage provides the document repository behind every persisted
// autoposter state: the usage ledger, scheduler settings, the diagnostics
// ledger and per-period image order.
//
// Callers address documents by key and never touch file paths. Two drivers
// exist:
//   - "file": one JSON document per key, replaced atomically (temp + rename)
//   - "sqlite": an embedded documents table, updated inside a transaction
package storage
