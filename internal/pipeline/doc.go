// Package pipeline sequences the audiobook stages (parse, license, download,
// extract, assemble, import, return) over the persisted per-book state
// machine. Each stage commits before the next starts, so any command can be
// re-invoked after an interruption and resumes from the last committed
// stage. A per-book file lock keeps concurrent invocations from
// double-downloading or double-releasing a license.
package pipeline
