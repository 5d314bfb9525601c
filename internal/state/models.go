package state

import (
	"strings"
	"time"
)

// Status is the committed pipeline stage for a book. Terminal "-ing" values
// mark a stage in flight; on recovery they roll back to the last committed
// stage so the stage reruns cleanly.
type Status string

const (
	StatusPending     Status = "pending"
	StatusParsed      Status = "parsed"
	StatusLicensed    Status = "licensed"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusExtracting  Status = "extracting"
	StatusExtracted   Status = "extracted"
	StatusAssembling  Status = "assembling"
	StatusAssembled   Status = "assembled"
	StatusImported    Status = "imported"
	StatusReturned    Status = "returned"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusParsed,
	StatusLicensed,
	StatusDownloading,
	StatusDownloaded,
	StatusExtracting,
	StatusExtracted,
	StatusAssembling,
	StatusAssembled,
	StatusImported,
	StatusReturned,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// statusOrder ranks committed statuses for prerequisite checks. In-flight
// statuses rank at their preceding committed stage.
var statusOrder = map[Status]int{
	StatusPending:     0,
	StatusParsed:      1,
	StatusLicensed:    2,
	StatusDownloading: 2,
	StatusDownloaded:  3,
	StatusExtracting:  3,
	StatusExtracted:   4,
	StatusAssembling:  4,
	StatusAssembled:   5,
	StatusImported:    6,
	StatusReturned:    7,
}

// AtLeast reports whether s represents progress at or beyond other. A failed
// book satisfies no prerequisite.
func (s Status) AtLeast(other Status) bool {
	rank, ok := statusOrder[s]
	if !ok {
		return false
	}
	want, ok := statusOrder[other]
	if !ok {
		return false
	}
	return rank >= want
}

// IsProcessing reports whether the status marks a stage in flight.
func (s Status) IsProcessing() bool {
	switch s {
	case StatusDownloading, StatusExtracting, StatusAssembling:
		return true
	}
	return false
}

// ParseStatus validates a raw status string.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.TrimSpace(strings.ToLower(value)))
	_, ok := statusSet[status]
	return status, ok
}

type statusTransition struct {
	from Status
	to   Status
}

// Stages interrupted mid-run resume from their last committed state.
var processingRollbacks = []statusTransition{
	{from: StatusDownloading, to: StatusLicensed},
	{from: StatusExtracting, to: StatusDownloaded},
	{from: StatusAssembling, to: StatusExtracted},
}

// Book is the persisted pipeline record for one borrowed title.
type Book struct {
	ID            int64
	MediaID       string
	Title         string
	Author        string
	ODMPath       string
	StagingDir    string
	AssembledFile string
	LibraryDir    string
	Status        Status
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
