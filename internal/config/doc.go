// Package config loads, normalizes, and validates the TOML configuration
// controlling paths, the OverDrive client identity, download behavior, and
// external tool invocation.
package config
