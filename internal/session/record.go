package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Record is the persisted session state for one token. Its JSON layout is
// the storage format and must round-trip unchanged.
type Record struct {
	UserID           *string           `json:"userId"`
	Challenge        *string           `json:"challenge"`
	CreatedAt        int64             `json:"createdAt"` // epoch milliseconds
	Progress         map[string]string `json:"progress"`  // courseId -> last lesson id
	VideoStarts      map[string]string `json:"videoStarts"`
	VideoCompletions map[string]string `json:"videoCompletions"`
}

// Fields is the caller-supplied content of a save. Every save replaces the
// whole record, so anything left out is reset to its empty value.
type Fields struct {
	UserID           *string
	Challenge        *string
	Progress         map[string]string
	VideoStarts      map[string]string
	VideoCompletions map[string]string
}

// newRecord builds a record from f stamped with createdAt. Maps are copied so
// the caller can keep mutating its own.
func newRecord(f Fields, createdAt time.Time) *Record {
	return &Record{
		UserID:           clonePtr(f.UserID),
		Challenge:        clonePtr(f.Challenge),
		CreatedAt:        createdAt.UnixMilli(),
		Progress:         cloneMap(f.Progress),
		VideoStarts:      cloneMap(f.VideoStarts),
		VideoCompletions: cloneMap(f.VideoCompletions),
	}
}

// Fields returns a deep copy of the record's mutable content, ready to be
// modified and passed back to Save.
func (r *Record) Fields() Fields {
	return Fields{
		UserID:           clonePtr(r.UserID),
		Challenge:        clonePtr(r.Challenge),
		Progress:         cloneMap(r.Progress),
		VideoStarts:      cloneMap(r.VideoStarts),
		VideoCompletions: cloneMap(r.VideoCompletions),
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	f := r.Fields()
	c.UserID, c.Challenge = f.UserID, f.Challenge
	c.Progress, c.VideoStarts, c.VideoCompletions = f.Progress, f.VideoStarts, f.VideoCompletions
	return &c
}

// Created returns CreatedAt as a time.
func (r *Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// ExpiresAt is the first instant at which the record is no longer valid.
func (r *Record) ExpiresAt(maxDuration time.Duration) time.Time {
	return r.Created().Add(maxDuration)
}

// Valid reports whether now < createdAt + maxDuration.
func (r *Record) Valid(now time.Time, maxDuration time.Duration) bool {
	return now.UnixMilli() < r.CreatedAt+maxDuration.Milliseconds()
}

// Anonymous reports whether no user is attached.
func (r *Record) Anonymous() bool {
	return r.UserID == nil
}

// VideoKey is the composite key used by VideoStarts and VideoCompletions.
func VideoKey(courseID, lessonID string) string {
	return courseID + "-" + lessonID
}

// encodeRecord serialises r to the storage format.
func encodeRecord(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("session: encode record: %w", err)
	}
	return data, nil
}

// decodeRecord parses and validates a stored blob. Missing maps are
// normalised to empty ones; a missing or non-positive createdAt is rejected.
func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if r.CreatedAt <= 0 {
		return nil, fmt.Errorf("%w: createdAt %d", ErrCorruptRecord, r.CreatedAt)
	}
	if r.Progress == nil {
		r.Progress = map[string]string{}
	}
	if r.VideoStarts == nil {
		r.VideoStarts = map[string]string{}
	}
	if r.VideoCompletions == nil {
		r.VideoCompletions = map[string]string{}
	}
	return &r, nil
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
