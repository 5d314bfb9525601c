// Package state persists per-book pipeline progress in SQLite so interrupted
// runs resume from the last committed stage instead of repeating work.
package state
