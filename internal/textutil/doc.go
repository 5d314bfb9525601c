// Package textutil holds small text helpers for filenames and chapter labels.
package textutil
