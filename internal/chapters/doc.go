// Package chapters turns per-part chapter marks into the single absolute
// timeline embedded in the assembled audiobook.
package chapters
