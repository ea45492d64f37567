package models

import (
	"fmt"
	"time"
)

// Version is the optimistic concurrency stamp of a persistent object.
// Only Sequence takes part in comparisons; At and By are informational.
type Version struct {
	Sequence int64     `json:"seq"`
	At       time.Time `json:"at"`
	By       string    `json:"by,omitempty"`
}

// FirstVersion returns the stamp assigned on create
func FirstVersion(at time.Time) Version {
	return Version{Sequence: 1, At: at}
}

// Next returns the stamp following v
func (v Version) Next(at time.Time) Version {
	return Version{Sequence: v.Sequence + 1, At: at, By: v.By}
}

// Equal reports whether both stamps denote the same stored state
func (v Version) Equal(other Version) bool {
	return v.Sequence == other.Sequence
}

// IsZero reports whether v was never assigned
func (v Version) IsZero() bool {
	return v.Sequence == 0
}

// String returns a human-readable version stamp
func (v Version) String() string {
	return fmt.Sprintf("v%d", v.Sequence)
}
