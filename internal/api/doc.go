// Package api implements the HTTP API for a kvstore database.
//
// This package provides:
//   - Key endpoints: GET, PUT and DELETE /api/v1/keys/{key}
//   - Prefix counts, read-only SQL inspection and batched writes
//   - Health and pool statistics
//   - A Prometheus scrape endpoint at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Every request acquires its own pooled connection under a fresh owner
// and releases it before the response is written. Writes run in write
// transactions, so they are serialised by the database write lock.
//
// # Errors
//
// Contention (pool exhausted, write lock timeout, blocked read) maps to
// 503 with Retry-After; clients should retry. Bad input is 400, a missing
// key 404, and transaction misuse 409.
package api
