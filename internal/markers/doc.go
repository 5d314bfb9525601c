// Package markers extracts chapter marks from the proprietary
// "OverDrive MediaMarkers" block that OverDrive embeds in each audiobook
// part's ID3v2 tag, and measures the real encoded duration of MP3 parts.
package markers
