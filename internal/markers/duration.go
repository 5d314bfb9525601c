package markers

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// MPEG1 Layer III bitrates in kbps, indexed by the header bitrate field.
var bitrateTableV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// MPEG2/2.5 Layer III bitrates in kbps.
var bitrateTableV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

// Sample rates in Hz by MPEG version.
var sampleRateTableV1 = [4]int{44100, 48000, 32000, 0}
var sampleRateTableV2 = [4]int{22050, 24000, 16000, 0}

type frameInfo struct {
	mpeg1      bool
	bitrate    int // bps
	sampleRate int
	channels   int
}

// Measure returns the real encoded duration of an MP3 part. The encoded
// length can differ from the manifest's declared duration, and chapter
// offsets accumulate across parts, so planning always uses measured values.
// Measurement prefers a Xing/Info or VBRI frame count and falls back to a
// CBR estimate from the first frame's bitrate.
func Measure(path string) (time.Duration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read part: %w", err)
	}

	var audioStart int64
	if tag, err := parseID3v2(raw); err == nil && tag != nil {
		audioStart = tag.size
	}

	offset, info, err := findFirstFrame(raw, audioStart)
	if err != nil {
		return 0, err
	}

	if frames, ok := vbrFrameCount(raw, offset, info); ok {
		samples := int64(frames) * samplesPerFrame(info)
		return time.Duration(float64(samples) / float64(info.sampleRate) * float64(time.Second)), nil
	}

	audioBytes := int64(len(raw)) - audioStart
	if info.bitrate <= 0 {
		return 0, fmt.Errorf("cannot estimate duration: zero bitrate")
	}
	seconds := float64(audioBytes*8) / float64(info.bitrate)
	return time.Duration(seconds * float64(time.Second)), nil
}

func samplesPerFrame(info frameInfo) int64 {
	if info.mpeg1 {
		return 1152
	}
	return 576
}

// findFirstFrame scans forward from start for an MP3 frame sync and decodes
// its header. Scanning (rather than trusting the tag size) tolerates padding
// between the tag and the first frame.
func findFirstFrame(raw []byte, start int64) (int64, frameInfo, error) {
	for offset := start; offset+4 <= int64(len(raw)); offset++ {
		header := binary.BigEndian.Uint32(raw[offset : offset+4])
		info, ok := decodeFrameHeader(header)
		if ok {
			return offset, info, nil
		}
	}
	return 0, frameInfo{}, fmt.Errorf("no MP3 frame found")
}

func decodeFrameHeader(header uint32) (frameInfo, bool) {
	if header&0xFFE00000 != 0xFFE00000 {
		return frameInfo{}, false
	}
	version := (header >> 19) & 0x3 // 3 = MPEG1, 2 = MPEG2
	layer := (header >> 17) & 0x3   // 1 = Layer III
	if (version != 3 && version != 2) || layer != 1 {
		return frameInfo{}, false
	}

	info := frameInfo{mpeg1: version == 3}

	bitrateIdx := (header >> 12) & 0xF
	if info.mpeg1 {
		info.bitrate = bitrateTableV1[bitrateIdx] * 1000
	} else {
		info.bitrate = bitrateTableV2[bitrateIdx] * 1000
	}

	sampleRateIdx := (header >> 10) & 0x3
	if info.mpeg1 {
		info.sampleRate = sampleRateTableV1[sampleRateIdx]
	} else {
		info.sampleRate = sampleRateTableV2[sampleRateIdx]
	}
	if info.bitrate == 0 || info.sampleRate == 0 {
		return frameInfo{}, false
	}

	if (header>>6)&0x3 == 3 {
		info.channels = 1
	} else {
		info.channels = 2
	}
	return info, true
}

// vbrFrameCount looks for a Xing/Info or VBRI header inside the first frame
// and returns the declared frame count.
func vbrFrameCount(raw []byte, frameOffset int64, info frameInfo) (uint32, bool) {
	// Xing sits after the side information block, whose size depends on
	// version and channel mode.
	var sideInfo int64
	switch {
	case info.mpeg1 && info.channels == 1:
		sideInfo = 17
	case info.mpeg1:
		sideInfo = 32
	case info.channels == 1:
		sideInfo = 9
	default:
		sideInfo = 17
	}

	xingOffset := frameOffset + 4 + sideInfo
	if xingOffset+12 <= int64(len(raw)) {
		marker := string(raw[xingOffset : xingOffset+4])
		if marker == "Xing" || marker == "Info" {
			flags := binary.BigEndian.Uint32(raw[xingOffset+4 : xingOffset+8])
			if flags&0x1 != 0 {
				return binary.BigEndian.Uint32(raw[xingOffset+8 : xingOffset+12]), true
			}
		}
	}

	// VBRI always sits 32 bytes after the frame header.
	vbriOffset := frameOffset + 4 + 32
	if vbriOffset+18 <= int64(len(raw)) && string(raw[vbriOffset:vbriOffset+4]) == "VBRI" {
		return binary.BigEndian.Uint32(raw[vbriOffset+14 : vbriOffset+18]), true
	}

	return 0, false
}
