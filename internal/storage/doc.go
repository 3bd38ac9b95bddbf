// Package storage is the persisted record store: ingested notifications,
// webhook destinations with their filters, created pings (one per
// notification x webhook), and the metadata cache used by renderers.
//
// The ping table is the source of truth for "has this notification been
// dispatched to this destination"; row writes are atomic, no cross-row
// transactions are needed.
package storage
