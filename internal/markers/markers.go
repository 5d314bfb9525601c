package markers

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"spool/internal/services"
	"spool/internal/textutil"
)

// mediaMarkersDescription is the TXXX frame description OverDrive uses for
// its embedded chapter data.
const mediaMarkersDescription = "OverDrive MediaMarkers"

// Mark is one chapter boundary recovered from a part's embedded metadata.
// Offset is relative to the start of that part.
type Mark struct {
	PartIndex int
	Offset    time.Duration
	Label     string
}

// CorruptDataError reports a marker block that was located but could not be
// decoded. The orchestrator decides whether this aborts the run or degrades
// to one chapter per part.
type CorruptDataError struct {
	PartIndex int
	Reason    string
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("chapter data corrupt in part %d: %s", e.PartIndex, e.Reason)
}

func (e *CorruptDataError) Unwrap() error { return services.ErrValidation }

var markerEntry = regexp.MustCompile(`(?s)<Name>\s*(.+?)\s*</Name>\s*<Time>\s*([\d:.]+)\s*</Time>`)

// Extract scans the part file for OverDrive's embedded marker block and
// returns the chapter marks it declares. A part with no marker block is
// legitimate (some parts carry no internal chapter split) and yields an
// empty result with no error.
func Extract(path string, partIndex int) ([]Mark, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read part: %w", err)
	}

	tag, err := parseID3v2(raw)
	if err != nil {
		return nil, &CorruptDataError{PartIndex: partIndex, Reason: err.Error()}
	}
	if tag == nil {
		return nil, nil // untagged part, nothing embedded
	}

	payload, found := findMarkerPayload(tag)
	if !found {
		return nil, nil
	}
	if strings.TrimSpace(payload) == "" {
		return nil, &CorruptDataError{PartIndex: partIndex, Reason: "marker block is empty"}
	}

	return parseMarkers(payload, partIndex)
}

func findMarkerPayload(tag *id3Tag) (string, bool) {
	for _, frame := range tag.frames {
		description, value, ok := userTextFrame(frame)
		if ok && strings.EqualFold(strings.TrimSpace(description), mediaMarkersDescription) {
			return value, true
		}
	}
	return "", false
}

// parseMarkers decodes the Name/Time entry sequence. The payload is nominally
// XML but real-world blocks are inconsistent about escaping and nesting, so
// entries are matched structurally rather than parsed as a document.
func parseMarkers(payload string, partIndex int) ([]Mark, error) {
	entries := markerEntry.FindAllStringSubmatch(payload, -1)
	if len(entries) == 0 {
		if strings.Contains(payload, "<Marker") || strings.Contains(payload, "<Name") {
			return nil, &CorruptDataError{PartIndex: partIndex, Reason: "marker entries present but undecodable"}
		}
		return nil, &CorruptDataError{PartIndex: partIndex, Reason: "marker block holds no entries"}
	}

	marks := make([]Mark, 0, len(entries))
	var previous time.Duration = -1
	for _, entry := range entries {
		offset, err := parseMarkerTime(entry[2])
		if err != nil {
			return nil, &CorruptDataError{PartIndex: partIndex, Reason: err.Error()}
		}
		if offset <= previous && len(marks) > 0 {
			return nil, &CorruptDataError{
				PartIndex: partIndex,
				Reason:    fmt.Sprintf("marker times not strictly increasing at %s", entry[2]),
			}
		}
		previous = offset
		marks = append(marks, Mark{
			PartIndex: partIndex,
			Offset:    offset,
			Label:     textutil.CleanMarkerLabel(entry[1]),
		})
	}
	return marks, nil
}

// parseMarkerTime accepts "SS.mmm", "MM:SS.mmm", or "HH:MM:SS.mmm". Marker
// times count from the start of the part, least significant field last.
func parseMarkerTime(value string) (time.Duration, error) {
	fields := strings.Split(strings.TrimSpace(value), ":")
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("unparseable marker time %q", value)
	}
	var total float64
	for _, field := range fields {
		n, err := strconv.ParseFloat(field, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unparseable marker time %q", value)
		}
		total = total*60 + n
	}
	return time.Duration(total * float64(time.Second)), nil
}

// IsCorrupt reports whether err represents a corrupt marker block, and for
// which part.
func IsCorrupt(err error) (int, bool) {
	var corrupt *CorruptDataError
	if errors.As(err, &corrupt) {
		return corrupt.PartIndex, true
	}
	return 0, false
}
