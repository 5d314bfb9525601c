// Package download fetches the per-part audio streams of a borrowed title
// using an acquired license, with resumable range transfers and size
// verification.
package download
