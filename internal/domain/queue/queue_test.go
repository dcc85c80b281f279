package queue

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

func testTrack(title, author, uri string) track.Track {
	return track.Track{Title: title, Author: author, URI: uri}
}

func titles(ts []track.Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestAdd(t *testing.T) {
	q := New()
	assert.ErrorIs(t, q.Add(), ErrNoTracks)

	require.NoError(t, q.Add(testTrack("A", "X", "uri:a"), testTrack("B", "X", "uri:b")))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"A", "B"}, titles(q.Tracks()))
}

func TestInsertFront(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(testTrack("A", "X", "uri:a")))
	q.InsertFront(testTrack("B", "X", "uri:b"))
	assert.Equal(t, []string{"B", "A"}, titles(q.Tracks()))
}

func TestRemoveAt(t *testing.T) {
	q := New()
	_, err := q.RemoveAt(1)
	assert.ErrorIs(t, err, ErrEmptyQueue)

	require.NoError(t, q.Add(
		testTrack("A", "X", "uri:a"),
		testTrack("B", "X", "uri:b"),
		testTrack("C", "Y", "uri:c"),
	))

	// Out of range on a 3-track queue.
	_, err = q.RemoveAt(5)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = q.RemoveAt(0)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	removed, err := q.RemoveAt(2)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.Title)
	assert.Equal(t, []string{"A", "C"}, titles(q.Tracks()))
}

func TestMove(t *testing.T) {
	build := func() *Queue {
		q := New()
		_ = q.Add(
			testTrack("A", "X", "uri:a"),
			testTrack("B", "X", "uri:b"),
			testTrack("C", "Y", "uri:c"),
			testTrack("D", "Y", "uri:d"),
		)
		return q
	}

	t.Run("out of range", func(t *testing.T) {
		q := build()
		assert.ErrorIs(t, q.Move(0, 2), ErrInvalidPosition)
		assert.ErrorIs(t, q.Move(1, 5), ErrInvalidPosition)
	})

	t.Run("same position is a no-op", func(t *testing.T) {
		q := build()
		require.NoError(t, q.Move(2, 2))
		assert.Equal(t, []string{"A", "B", "C", "D"}, titles(q.Tracks()))
	})

	t.Run("forward then back restores order", func(t *testing.T) {
		for from := 1; from <= 4; from++ {
			for to := 1; to <= 4; to++ {
				q := build()
				require.NoError(t, q.Move(from, to))
				require.NoError(t, q.Move(to, from))
				assert.Equal(t, []string{"A", "B", "C", "D"}, titles(q.Tracks()),
					"move(%d,%d) then move(%d,%d)", from, to, to, from)
			}
		}
	})

	t.Run("splice semantics", func(t *testing.T) {
		q := build()
		require.NoError(t, q.Move(1, 3))
		assert.Equal(t, []string{"B", "C", "A", "D"}, titles(q.Tracks()))
	})
}

func TestRemoveDuplicates(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(
		testTrack("A", "X", "uri:a"),
		testTrack("B", "X", "uri:b"),
		testTrack("A again", "X", "uri:a"),     // dup by URI
		testTrack("B", "X", ""),                // no URI, title matches B
		testTrack("C", "Y", "uri:c"),
	))

	removed := q.RemoveDuplicates()
	assert.Len(t, removed, 2)
	assert.Equal(t, []string{"A", "B", "C"}, titles(q.Tracks()))

	// Idempotent: a second pass removes nothing.
	assert.Empty(t, q.RemoveDuplicates())
	assert.Equal(t, []string{"A", "B", "C"}, titles(q.Tracks()))

	// No two remaining tracks share an identity.
	seen := map[string]bool{}
	for _, tr := range q.Tracks() {
		assert.False(t, seen[tr.Identity()], "identity %q appears twice", tr.Identity())
		seen[tr.Identity()] = true
	}
}

func TestRemoveDuplicatesTitleFallback(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(
		testTrack("Yesterday", "The Beatles", ""),
		testTrack("Yesterday", "The Beatles", ""),
	))
	removed := q.RemoveDuplicates()
	assert.Len(t, removed, 1)
	assert.Equal(t, 1, q.Len())
}

func TestClear(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(testTrack("A", "X", "uri:a"), testTrack("B", "X", "uri:b")))
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear())
}

func TestShuffleNormal(t *testing.T) {
	q := New()
	var want []string
	for _, title := range []string{"A", "B", "C", "D", "E", "F"} {
		require.NoError(t, q.Add(testTrack(title, "X", "uri:"+title)))
		want = append(want, title)
	}

	q.Shuffle(ShuffleNormal, rand.New(rand.NewSource(42)))
	got := titles(q.Tracks())
	assert.Len(t, got, len(want))
	assert.ElementsMatch(t, want, got, "shuffle must be a permutation")
}

func TestShuffleOffLeavesQueueAlone(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(testTrack("A", "X", "uri:a"), testTrack("B", "Y", "uri:b")))
	q.Shuffle(ShuffleOff, rand.New(rand.NewSource(1)))
	assert.Equal(t, []string{"A", "B"}, titles(q.Tracks()))
}

func TestPopFront(t *testing.T) {
	q := New()
	_, ok := q.PopFront()
	assert.False(t, ok)

	require.NoError(t, q.Add(testTrack("A", "X", "uri:a"), testTrack("B", "X", "uri:b")))
	got, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, 1, q.Len())
}

func TestErrorsWrapped(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(testTrack("A", "X", "uri:a")))
	_, err := q.RemoveAt(9)
	assert.True(t, errors.Is(err, ErrInvalidPosition))
}
