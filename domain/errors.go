package domain

import "errors"

var (
	// Returned for diffs whose whole sequence range lies at or before the
	// book cursor. Such diffs are skipped.
	ErrUpdateOutdated = errors.New("depth update is outdated")
	// Returned when a diff leaves a hole after the book cursor. The venue
	// must be resynced from a fresh snapshot.
	ErrUpdateOutOfSequence = errors.New("depth update is out of sequence")
	// Returned for price levels whose price or size fields do not parse.
	ErrMalformedLevel = errors.New("malformed price level")
)
