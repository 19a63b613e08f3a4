// Package lifecycle holds the task lifecycle rules: the instruction ledger,
// the conversation registry, the dialogue recorder, status aggregation and
// the metric rollups. Everything here operates on a *domain.Task value
// without I/O or locking; callers own synchronization.
package lifecycle
