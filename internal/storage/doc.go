// Package storage keeps the dispatch journal: an append-only history of
// fired moves.
//
// It is optional and write-mostly. Schedules are never reloaded from it.
package storage
