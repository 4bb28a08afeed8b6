package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// EntryID identifies an interaction log entry. The log assigns either
// integer row IDs or fixed-width ULIDs; both order correctly with Compare.
type EntryID string

// NoCheckpoint is the checkpoint of a profile that has not absorbed any entry.
const NoCheckpoint EntryID = ""

// IsNone reports whether id is the NoCheckpoint sentinel
func (id EntryID) IsNone() bool {
	return id == NoCheckpoint
}

// Compare returns -1, 0 or +1. NoCheckpoint sorts before every other ID.
func (id EntryID) Compare(other EntryID) int {
	switch {
	case id == other:
		return 0
	case id.IsNone():
		return -1
	case other.IsNone():
		return 1
	}

	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(string(id), string(other))
}

// After reports whether id is strictly after other
func (id EntryID) After(other EntryID) bool {
	return id.Compare(other) > 0
}

// LogEntry is one record of the external interaction log. It is read-only here.
type LogEntry struct {
	ID        EntryID
	UserText  string
	Model     string
	Timestamp time.Time
}

// Validate reports a malformed entry. A malformed entry will never become
// processable, so callers treat it as a permanent failure.
func (e *LogEntry) Validate() error {
	if e.ID.IsNone() {
		return goerr.Wrap(ErrPermanentEntry, "entry has no id")
	}
	if strings.TrimSpace(e.UserText) == "" {
		return goerr.Wrap(ErrPermanentEntry, "entry has no user text", goerr.V("id", e.ID))
	}
	return nil
}
