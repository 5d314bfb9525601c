package testsupport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

// Helpers for building synthetic OverDrive part files: an ID3v2 tag carrying
// a TXXX frame followed by MPEG1 Layer III audio frames.

// mp3FrameSize is the byte length of one 64 kbps 44.1 kHz MPEG1 Layer III
// frame without padding.
const mp3FrameSize = 208

// ID3TXXXFrame encodes a TXXX frame with Latin-1 text.
func ID3TXXXFrame(description, value string) []byte {
	payload := make([]byte, 0, len(description)+len(value)+2)
	payload = append(payload, 0) // encoding: Latin-1
	payload = append(payload, []byte(description)...)
	payload = append(payload, 0)
	payload = append(payload, []byte(value)...)
	return id3Frame("TXXX", payload)
}

// ID3TXXXFrameUTF16 encodes a TXXX frame as UTF-16LE with BOMs, the encoding
// OverDrive's own tagger emits.
func ID3TXXXFrameUTF16(description, value string) []byte {
	payload := []byte{1} // encoding: UTF-16 with BOM
	payload = append(payload, encodeUTF16LE(description)...)
	payload = append(payload, 0, 0)
	payload = append(payload, encodeUTF16LE(value)...)
	return id3Frame("TXXX", payload)
}

func encodeUTF16LE(s string) []byte {
	out := []byte{0xFF, 0xFE}
	for _, code := range utf16.Encode([]rune(s)) {
		out = append(out, byte(code), byte(code>>8))
	}
	return out
}

func id3Frame(id string, payload []byte) []byte {
	frame := make([]byte, 0, 10+len(payload))
	frame = append(frame, []byte(id)...)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	frame = append(frame, size[:]...)
	frame = append(frame, 0, 0) // flags
	return append(frame, payload...)
}

// ID3v23Tag wraps the given frames in an ID3v2.3 envelope with some padding.
func ID3v23Tag(frames ...[]byte) []byte {
	var body []byte
	for _, frame := range frames {
		body = append(body, frame...)
	}
	body = append(body, make([]byte, 16)...) // padding

	tag := []byte{'I', 'D', '3', 3, 0, 0}
	size := len(body)
	tag = append(tag,
		byte(size>>21&0x7F), byte(size>>14&0x7F), byte(size>>7&0x7F), byte(size&0x7F))
	return append(tag, body...)
}

// MP3CBRFrames produces count back-to-back 64 kbps 44.1 kHz stereo frames.
func MP3CBRFrames(count int) []byte {
	out := make([]byte, 0, count*mp3FrameSize)
	for i := 0; i < count; i++ {
		frame := make([]byte, mp3FrameSize)
		frame[0] = 0xFF
		frame[1] = 0xFB // MPEG1 Layer III, no CRC
		frame[2] = 0x50 // 64 kbps, 44.1 kHz, no padding
		frame[3] = 0x00 // stereo
		out = append(out, frame...)
	}
	return out
}

// MP3XingFrame produces a single frame carrying a Xing header that declares
// frameCount audio frames.
func MP3XingFrame(frameCount uint32) []byte {
	frame := make([]byte, mp3FrameSize)
	frame[0] = 0xFF
	frame[1] = 0xFB
	frame[2] = 0x50
	frame[3] = 0x00
	// Xing follows the 32-byte stereo side information block.
	offset := 4 + 32
	copy(frame[offset:], "Xing")
	binary.BigEndian.PutUint32(frame[offset+4:], 0x1) // frames field present
	binary.BigEndian.PutUint32(frame[offset+8:], frameCount)
	return frame
}

// WritePartFile writes tag and audio bytes as a part file under dir and
// returns its path.
func WritePartFile(t *testing.T, dir, name string, chunks ...[]byte) string {
	t.Helper()
	var data []byte
	for _, chunk := range chunks {
		data = append(data, chunk...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write part file: %v", err)
	}
	return path
}
