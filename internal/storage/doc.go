// Package storage provides the key-value capability winkdrops persists its
// state through.
//
// Each consumer owns one fixed key and stores one JSON document under it:
//   - the pending scheduled sends
//   - the notification settings
//   - the outbox
//
// Drivers: memory (default), file (journal + snapshot), sqlite, redis.
package storage
