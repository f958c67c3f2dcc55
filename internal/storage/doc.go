// Package storage persists reminders, tasks, feed subscriptions and users.
//
// Three drivers share one Store contract:
//   - sqlite: modernc.org/sqlite, the default
//   - file:   JSON snapshot plus an append-only journal
//   - memory: process-local maps, for tests and throwaway runs
//
// No row is updated in place except tasks.done; reminders are only ever
// inserted and deleted.
package storage
