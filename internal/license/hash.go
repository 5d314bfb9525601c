package license

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
)

// hashSecret is the constant the legacy OverDrive Media Console mixes into
// its client hash ("OVERDRIVE*MEDIA*CONSOLE" reversed).
const hashSecret = "ELOSNOC*AIDEM*EVIRDREVO"

// NewClientID returns a fresh uppercase UUID in the form the license server
// expects.
func NewClientID() string {
	return strings.ToUpper(uuid.NewString())
}

// ClientHash computes the acquisition hash for a client identity:
// base64(SHA-1(UTF-16LE("<clientID>|<omc>|<os>|" + secret))).
func ClientHash(clientID, omcVersion, osVersion string) string {
	raw := strings.Join([]string{clientID, omcVersion, osVersion, hashSecret}, "|")
	digest := sha1.Sum(encodeUTF16LE(raw))
	return base64.StdEncoding.EncodeToString(digest[:])
}

func encodeUTF16LE(value string) []byte {
	codes := utf16.Encode([]rune(value))
	buf := make([]byte, 0, len(codes)*2)
	for _, code := range codes {
		buf = append(buf, byte(code), byte(code>>8))
	}
	return buf
}
