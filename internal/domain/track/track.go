// Package track provides the Track domain entity.
package track

import "time"

// Track represents a playable track resolved by the audio engine.
// Immutable once created.
type Track struct {
	Title      string        // Track title
	Author     string        // Artist name
	URI        string        // Source URI (may be empty for local uploads)
	Duration   time.Duration // Track length (0 if unknown)
	ArtworkURL string        // Album art URL
	Source     string        // Source platform tag (youtube, soundcloud, ...)
	Requester  Requester     // Who asked for it
	Encoded    string        // Opaque engine payload, handed back verbatim on play
}

// Requester identifies the user who queued a track.
type Requester struct {
	ID          string // Gateway user ID
	DisplayName string // Display name at request time
}

// Identity returns the value used for duplicate detection:
// the source URI, or the title when no URI is present.
func (t Track) Identity() string {
	if t.URI != "" {
		return t.URI
	}
	return t.Title
}

// SameIdentity reports whether two tracks count as duplicates of each other.
func SameIdentity(a, b Track) bool {
	return a.Identity() == b.Identity()
}
