package odm

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spool/internal/services"
)

// ErrMalformedManifest tags ODM content that fails structural validation.
var ErrMalformedManifest = errors.New("malformed manifest")

// Part is one segment of the multi-file audiobook delivery as declared by the
// manifest. Index is 1-based and contiguous; Duration is the declared length,
// which can differ slightly from the encoded audio.
type Part struct {
	Index    int
	Name     string
	Filename string
	Size     int64
	Duration time.Duration
}

// Manifest is the parsed ODM file: distribution metadata, license endpoints,
// and the ordered part list. Immutable once parsed.
type Manifest struct {
	MediaID         string
	Title           string
	Author          string
	CoverURL        string
	AcquisitionURL  string
	EarlyReturnURL  string
	DownloadBaseURL string
	Parts           []Part
}

// TotalDeclaredDuration sums the declared duration of all parts.
func (m *Manifest) TotalDeclaredDuration() time.Duration {
	var total time.Duration
	for _, part := range m.Parts {
		total += part.Duration
	}
	return total
}

// Parse reads an ODM manifest. The on-disk format varies across OverDrive
// vintages (element nesting, CDATA-wrapped metadata), so elements are located
// by name during a token walk rather than by a fixed document shape.
func Parse(raw []byte) (*Manifest, error) {
	doc, err := scanDocument(raw)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		MediaID:         strings.TrimSpace(doc.mediaID),
		AcquisitionURL:  strings.TrimSpace(doc.acquisitionURL),
		EarlyReturnURL:  strings.TrimSpace(doc.earlyReturnURL),
		DownloadBaseURL: strings.TrimSpace(doc.downloadBaseURL),
		Parts:           doc.parts,
	}

	meta := parseMetadata(doc.metadataXML)
	manifest.Title = meta.Title
	manifest.Author = meta.Author
	manifest.CoverURL = meta.CoverURL

	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (m *Manifest) validate() error {
	if m.MediaID == "" {
		return malformedf("missing media id")
	}
	if err := requireHTTPURL("AcquisitionUrl", m.AcquisitionURL); err != nil {
		return err
	}
	if m.DownloadBaseURL == "" {
		return malformedf("missing download protocol baseurl")
	}
	if len(m.Parts) == 0 {
		return malformedf("manifest declares no parts")
	}
	for i, part := range m.Parts {
		if part.Index != i+1 {
			return malformedf("part indices must be contiguous from 1: position %d has number %d", i+1, part.Index)
		}
		if part.Filename == "" {
			return malformedf("part %d has no filename", part.Index)
		}
		if part.Duration <= 0 {
			return malformedf("part %d has no usable duration", part.Index)
		}
	}
	return nil
}

func requireHTTPURL(field, value string) error {
	if value == "" {
		return malformedf("missing %s", field)
	}
	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return malformedf("%s is not an absolute http(s) url: %q", field, value)
	}
	return nil
}

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", services.ErrValidation, ErrMalformedManifest, fmt.Sprintf(format, args...))
}

type scannedDocument struct {
	mediaID         string
	acquisitionURL  string
	earlyReturnURL  string
	downloadBaseURL string
	metadataXML     string
	parts           []Part
}

func scanDocument(raw []byte) (*scannedDocument, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(raw)))
	decoder.Strict = false

	doc := &scannedDocument{}
	sawRoot := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformedf("xml: %v", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "OverDriveMedia":
			sawRoot = true
			if doc.mediaID == "" {
				doc.mediaID = attr(start, "id")
			}
		case "AcquisitionUrl":
			doc.acquisitionURL = elementText(decoder)
		case "EarlyReturnURL":
			doc.earlyReturnURL = elementText(decoder)
		case "Protocol":
			if strings.EqualFold(attr(start, "method"), "download") {
				doc.downloadBaseURL = attr(start, "baseurl")
			}
		case "Part":
			part, err := parsePart(start, len(doc.parts))
			if err != nil {
				return nil, err
			}
			doc.parts = append(doc.parts, part)
		case "Metadata":
			// Top-level Metadata carries a CDATA payload of inner XML.
			if doc.metadataXML == "" {
				doc.metadataXML = elementText(decoder)
			}
		}
	}
	if !sawRoot {
		return nil, malformedf("not an OverDriveMedia document")
	}
	return doc, nil
}

func parsePart(start xml.StartElement, position int) (Part, error) {
	numberAttr := attr(start, "number")
	index, err := strconv.Atoi(strings.TrimSpace(numberAttr))
	if err != nil || index < 1 {
		return Part{}, malformedf("part at position %d has invalid number %q", position+1, numberAttr)
	}

	duration, err := parseClockDuration(attr(start, "duration"))
	if err != nil {
		return Part{}, malformedf("part %d: %v", index, err)
	}

	size, _ := strconv.ParseInt(strings.TrimSpace(attr(start, "filesize")), 10, 64)

	name := strings.TrimSpace(attr(start, "name"))
	if name == "" {
		name = fmt.Sprintf("Part %d", index)
	}

	return Part{
		Index:    index,
		Name:     name,
		Filename: strings.TrimSpace(attr(start, "filename")),
		Size:     size,
		Duration: duration,
	}, nil
}

// parseClockDuration accepts "SS", "MM:SS", or "HH:MM:SS" with optional
// fractional seconds, as seen in Part duration attributes.
func parseClockDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty duration")
	}
	fields := strings.Split(value, ":")
	if len(fields) > 3 {
		return 0, fmt.Errorf("unparseable duration %q", value)
	}
	var total float64
	for _, field := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unparseable duration %q", value)
		}
		total = total*60 + n
	}
	return time.Duration(total * float64(time.Second)), nil
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// elementText consumes tokens until the current element closes, returning the
// accumulated character data (CDATA included).
func elementText(decoder *xml.Decoder) string {
	var builder strings.Builder
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				builder.Write(t)
			}
		}
	}
	return strings.TrimSpace(builder.String())
}
