package odm

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// bookMetadata is what we keep from the CDATA metadata payload.
type bookMetadata struct {
	Title    string
	Author   string
	CoverURL string
}

// parseMetadata extracts author/title/cover from the inner metadata document.
// The payload is best-effort: a book without usable metadata still downloads,
// it just lands under placeholder names.
func parseMetadata(metadataXML string) bookMetadata {
	meta := bookMetadata{Title: "Unknown Title", Author: "Unknown Author"}
	metadataXML = strings.TrimSpace(metadataXML)
	if metadataXML == "" {
		return meta
	}
	if !strings.HasPrefix(metadataXML, "<") {
		metadataXML = "<Metadata>" + metadataXML + "</Metadata>"
	}

	decoder := xml.NewDecoder(strings.NewReader(metadataXML))
	decoder.Strict = false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) || err != nil {
			break
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Title":
			if text := elementText(decoder); text != "" && meta.Title == "Unknown Title" {
				meta.Title = text
			}
		case "Creator":
			role := attr(start, "role")
			if strings.HasPrefix(role, "Author") && meta.Author == "Unknown Author" {
				if text := elementText(decoder); text != "" {
					meta.Author = text
				}
			}
		case "CoverUrl":
			if text := elementText(decoder); text != "" {
				meta.CoverURL = text
			}
		}
	}
	return meta
}
