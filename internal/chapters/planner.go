package chapters

import (
	"fmt"
	"sort"
	"time"

	"spool/internal/markers"
)

// Chapter is one entry in the assembled file's chapter list.
type Chapter struct {
	Title string
	Start time.Duration
}

// Timeline is the global chapter list, strictly increasing by Start with the
// first entry at zero.
type Timeline []Chapter

// PartTiming pairs a part index with its measured encoded duration. Measured
// durations are used for offset math because the real encoded length can
// drift from the manifest's declared value.
type PartTiming struct {
	Index    int
	Duration time.Duration
}

// Warning records a mark that had to be dropped to keep the timeline valid.
type Warning struct {
	PartIndex int
	Message   string
}

func (w Warning) String() string {
	return fmt.Sprintf("part %d: %s", w.PartIndex, w.Message)
}

// Plan composes per-part chapter marks into one absolute timeline. Parts are
// consumed strictly in index order regardless of the order given; each part's
// base offset is the cumulative measured duration of all preceding parts.
// Marks that land at or past their part's measured end, or that would break
// monotonicity, are dropped with a warning. Consecutive entries with the same
// title collapse into the first.
func Plan(parts []PartTiming, marks map[int][]markers.Mark) (Timeline, []Warning) {
	ordered := make([]PartTiming, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var (
		timeline Timeline
		warnings []Warning
		base     time.Duration
	)
	for _, part := range ordered {
		for _, mark := range marks[part.Index] {
			if mark.Offset >= part.Duration {
				warnings = append(warnings, Warning{
					PartIndex: part.Index,
					Message:   fmt.Sprintf("mark %q at %s is at or past the part's measured end %s, dropped", mark.Label, mark.Offset, part.Duration),
				})
				continue
			}
			start := base + mark.Offset
			if len(timeline) > 0 && start <= timeline[len(timeline)-1].Start {
				warnings = append(warnings, Warning{
					PartIndex: part.Index,
					Message:   fmt.Sprintf("mark %q at absolute %s does not advance the timeline, dropped", mark.Label, start),
				})
				continue
			}
			if mark.Label == "" {
				// Disc headings and similar clean to nothing.
				warnings = append(warnings, Warning{
					PartIndex: part.Index,
					Message:   fmt.Sprintf("unlabeled mark at absolute %s dropped", start),
				})
				continue
			}
			if len(timeline) > 0 && timeline[len(timeline)-1].Title == mark.Label {
				continue // continuation of the previous chapter
			}
			timeline = append(timeline, Chapter{Title: mark.Label, Start: start})
		}
		base += part.Duration
	}

	if len(timeline) == 0 {
		return Timeline{{Title: "Chapter 1", Start: 0}}, warnings
	}
	if timeline[0].Start != 0 {
		// The container needs a chapter covering the audio before the
		// first detected mark.
		timeline = append(Timeline{{Title: "Chapter 1", Start: 0}}, timeline...)
	}
	return timeline, warnings
}

// FallbackTimeline builds a one-chapter-per-part timeline from measured
// durations alone, for books whose embedded chapter data is unusable. names
// maps part index to a display title; unnamed parts get "Part N".
func FallbackTimeline(parts []PartTiming, names map[int]string) Timeline {
	ordered := make([]PartTiming, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	timeline := make(Timeline, 0, len(ordered))
	var base time.Duration
	for _, part := range ordered {
		title := names[part.Index]
		if title == "" {
			title = fmt.Sprintf("Part %d", part.Index)
		}
		timeline = append(timeline, Chapter{Title: title, Start: base})
		base += part.Duration
	}
	return timeline
}

// TotalDuration sums measured part durations, the expected length of the
// assembled output.
func TotalDuration(parts []PartTiming) time.Duration {
	var total time.Duration
	for _, part := range parts {
		total += part.Duration
	}
	return total
}
