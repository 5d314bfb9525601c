package assemble

import (
	"fmt"
	"sort"
	"strings"

	"spool/internal/fileutil"
)

// writeConcatList emits an ffconcat demuxer script listing the parts in
// index order.
func writeConcatList(path string, parts []PartSource) error {
	ordered := make([]PartSource, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, part := range ordered {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(part.Path, "'", `'\''`))
	}
	return fileutil.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

// writeMetadata emits an ffmetadata file carrying the global tags and one
// [CHAPTER] block per timeline entry. Chapter times use a millisecond
// timebase; each chapter ends where the next begins, the last at the
// expected total duration.
func writeMetadata(path string, req Request) error {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	fmt.Fprintf(&b, "title=%s\n", escapeMetadata(req.Title))
	fmt.Fprintf(&b, "artist=%s\n", escapeMetadata(req.Author))

	for i, chapter := range req.Timeline {
		end := req.ExpectedDuration
		if i+1 < len(req.Timeline) {
			end = req.Timeline[i+1].Start
		}
		b.WriteString("[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", chapter.Start.Milliseconds())
		fmt.Fprintf(&b, "END=%d\n", end.Milliseconds())
		fmt.Fprintf(&b, "title=%s\n", escapeMetadata(chapter.Title))
	}
	return fileutil.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

// escapeMetadata backslash-escapes the characters the ffmetadata format
// treats specially.
func escapeMetadata(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\n", `\`+"\n",
	)
	return replacer.Replace(value)
}
