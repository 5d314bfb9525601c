package markers

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// id3Tag is the decoded ID3v2 envelope at the front of a part file.
type id3Tag struct {
	version  byte
	size     int64 // total tag length including header and footer
	frames   []id3Frame
	scanNote string
}

type id3Frame struct {
	id   string
	data []byte
}

// decodeSynchsafe unpacks a 28-bit synchsafe integer (7 bits per byte).
func decodeSynchsafe(buf []byte) uint32 {
	return uint32(buf[0]&0x7F)<<21 | uint32(buf[1]&0x7F)<<14 | uint32(buf[2]&0x7F)<<7 | uint32(buf[3]&0x7F)
}

// parseID3v2 walks the frames of an ID3v2.3/2.4 tag. Padding, unknown frame
// ids, and short trailing garbage are tolerated: the scan stops at the first
// invalid frame header rather than failing, since OverDrive encoders pad
// tags unpredictably.
func parseID3v2(raw []byte) (*id3Tag, error) {
	if len(raw) < 10 || string(raw[0:3]) != "ID3" {
		return nil, nil // no tag at all
	}

	version := raw[3]
	if version != 3 && version != 4 {
		return nil, fmt.Errorf("unsupported ID3v2 version 2.%d", version)
	}
	flags := raw[5]
	declaredSize := int64(decodeSynchsafe(raw[6:10]))

	tag := &id3Tag{version: version, size: 10 + declaredSize}
	if flags&0x10 != 0 { // footer present
		tag.size += 10
	}

	tagEnd := 10 + declaredSize
	if tagEnd > int64(len(raw)) {
		tagEnd = int64(len(raw))
		tag.scanNote = "tag extends past available data"
	}

	offset := int64(10)
	if flags&0x40 != 0 && offset+4 <= tagEnd {
		// Skip the extended header.
		if version == 4 {
			offset += int64(decodeSynchsafe(raw[offset : offset+4]))
		} else {
			offset += int64(binary.BigEndian.Uint32(raw[offset:offset+4])) + 4
		}
	}

	for offset+10 <= tagEnd {
		header := raw[offset : offset+10]
		if header[0] == 0 {
			break // padding
		}
		frameID := string(header[0:4])
		if !validFrameID(frameID) {
			break
		}
		var frameSize int64
		if version == 4 {
			frameSize = int64(decodeSynchsafe(header[4:8]))
		} else {
			frameSize = int64(binary.BigEndian.Uint32(header[4:8]))
		}
		if frameSize < 0 || offset+10+frameSize > tagEnd {
			tag.scanNote = fmt.Sprintf("frame %s truncated", frameID)
			break
		}
		tag.frames = append(tag.frames, id3Frame{
			id:   frameID,
			data: raw[offset+10 : offset+10+frameSize],
		})
		offset += 10 + frameSize
	}

	return tag, nil
}

func validFrameID(id string) bool {
	for _, r := range id {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// userTextFrame splits a TXXX frame into its description and value, honoring
// the frame's declared text encoding.
func userTextFrame(frame id3Frame) (description, value string, ok bool) {
	if frame.id != "TXXX" || len(frame.data) < 2 {
		return "", "", false
	}
	encoding := frame.data[0]
	payload := frame.data[1:]

	switch encoding {
	case 0, 3: // Latin-1 / UTF-8 with single-byte terminator
		idx := bytes.IndexByte(payload, 0)
		if idx < 0 {
			return "", "", false
		}
		return decodeSingleByte(payload[:idx], encoding), decodeSingleByte(payload[idx+1:], encoding), true
	case 1, 2: // UTF-16 with BOM / UTF-16BE, double-byte terminator
		idx := indexDoubleNull(payload)
		if idx < 0 {
			return "", "", false
		}
		return decodeUTF16(payload[:idx], encoding), decodeUTF16(payload[idx+2:], encoding), true
	default:
		return "", "", false
	}
}

func decodeSingleByte(data []byte, encoding byte) string {
	if encoding == 3 {
		return strings.TrimRight(string(data), "\x00")
	}
	// Latin-1: bytes map directly to code points.
	runes := make([]rune, 0, len(data))
	for _, b := range data {
		if b == 0 {
			continue
		}
		runes = append(runes, rune(b))
	}
	return string(runes)
}

func decodeUTF16(data []byte, encoding byte) string {
	bigEndian := encoding == 2
	if encoding == 1 && len(data) >= 2 {
		switch {
		case data[0] == 0xFE && data[1] == 0xFF:
			bigEndian = true
			data = data[2:]
		case data[0] == 0xFF && data[1] == 0xFE:
			data = data[2:]
		}
	}
	codes := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		var code uint16
		if bigEndian {
			code = uint16(data[i])<<8 | uint16(data[i+1])
		} else {
			code = uint16(data[i]) | uint16(data[i+1])<<8
		}
		if code == 0 {
			continue
		}
		codes = append(codes, code)
	}
	return string(utf16.Decode(codes))
}

func indexDoubleNull(data []byte) int {
	for i := 0; i+1 < len(data); i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			return i
		}
	}
	return -1
}
