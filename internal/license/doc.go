// Package license performs the OverDrive license handshake: client identity
// hashing, acquisition with retry, on-disk caching, and early return.
package license
