// Package logging wires log/slog with console and JSON handlers and the
// standardized field keys used across the pipeline.
package logging
