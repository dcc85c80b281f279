// Package queue provides the playback queue container and its mutation
// operations. Positions are 1-based at the package boundary, matching what
// users see in chat and on the dashboard.
package queue

import (
	"math/rand"

	"github.com/cockroachdb/errors"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

var (
	ErrInvalidPosition = errors.New("invalid queue position")
	ErrEmptyQueue      = errors.New("queue is empty")
	ErrNoTracks        = errors.New("no tracks given")
)

// ShuffleMode selects the reorder strategy applied by Shuffle.
type ShuffleMode string

const (
	ShuffleOff    ShuffleMode = "off"
	ShuffleNormal ShuffleMode = "normal"
	ShuffleSmart  ShuffleMode = "smart"
)

// Queue holds the tracks waiting to be played. Front (index 0) is next.
// Queue is not safe for concurrent use; the owning session serializes access.
type Queue struct {
	tracks []track.Track
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{tracks: make([]track.Track, 0)}
}

// Add appends one or more tracks to the back of the queue.
func (q *Queue) Add(ts ...track.Track) error {
	if len(ts) == 0 {
		return ErrNoTracks
	}
	q.tracks = append(q.tracks, ts...)
	return nil
}

// InsertFront places a track at the front of the queue ("play next").
func (q *Queue) InsertFront(t track.Track) {
	q.tracks = append([]track.Track{t}, q.tracks...)
}

// PopFront removes and returns the next track to play.
func (q *Queue) PopFront() (track.Track, bool) {
	if len(q.tracks) == 0 {
		return track.Track{}, false
	}
	t := q.tracks[0]
	q.tracks = q.tracks[1:]
	return t, true
}

// RemoveAt removes the track at the given 1-based position and returns it.
func (q *Queue) RemoveAt(pos int) (track.Track, error) {
	if len(q.tracks) == 0 {
		return track.Track{}, ErrEmptyQueue
	}
	if pos < 1 || pos > len(q.tracks) {
		return track.Track{}, errors.Wrapf(ErrInvalidPosition, "position %d of %d", pos, len(q.tracks))
	}
	i := pos - 1
	t := q.tracks[i]
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	return t, nil
}

// Move relocates the track at 1-based position from to position to,
// preserving the relative order of everything else. from == to is a no-op.
func (q *Queue) Move(from, to int) error {
	n := len(q.tracks)
	if from < 1 || from > n || to < 1 || to > n {
		return errors.Wrapf(ErrInvalidPosition, "move %d -> %d of %d", from, to, n)
	}
	if from == to {
		return nil
	}
	i, j := from-1, to-1
	t := q.tracks[i]
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	rest := append([]track.Track{t}, q.tracks[j:]...)
	q.tracks = append(q.tracks[:j], rest...)
	return nil
}

// RemoveDuplicates drops later repeats of tracks already seen earlier in the
// queue, keeping the first occurrence in its original position. Duplicate
// identity is the source URI, or the title when the URI is absent. Returns
// the removed tracks; an empty result is not an error.
func (q *Queue) RemoveDuplicates() []track.Track {
	seen := make(map[string]bool, len(q.tracks))
	kept := q.tracks[:0]
	var removed []track.Track
	for _, t := range q.tracks {
		id := t.Identity()
		if seen[id] {
			removed = append(removed, t)
			continue
		}
		seen[id] = true
		kept = append(kept, t)
	}
	q.tracks = kept
	return removed
}

// Clear empties the queue and returns how many tracks were dropped.
func (q *Queue) Clear() int {
	n := len(q.tracks)
	q.tracks = make([]track.Track, 0)
	return n
}

// Shuffle reorders the whole queue at once. ShuffleNormal is a uniform
// random permutation; ShuffleSmart applies the artist-balanced interleave.
// ShuffleOff leaves the queue untouched.
func (q *Queue) Shuffle(mode ShuffleMode, rng *rand.Rand) {
	switch mode {
	case ShuffleNormal:
		rng.Shuffle(len(q.tracks), func(i, j int) {
			q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
		})
	case ShuffleSmart:
		q.tracks = SmartShuffle(q.tracks)
	}
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Tracks returns a copy of the queued tracks, front first.
func (q *Queue) Tracks() []track.Track {
	out := make([]track.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}
