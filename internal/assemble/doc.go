// Package assemble concatenates downloaded audiobook parts into a single
// chaptered m4b container. ffmpeg does the decoding and muxing; this package
// constructs the concat list and ffmetadata chapter file, checks the engine's
// exit status, and verifies the produced duration with ffprobe.
package assemble
