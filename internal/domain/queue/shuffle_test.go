package queue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

func TestSmartShuffleInterleavesArtists(t *testing.T) {
	// A and B by artist X, C by artist Y: cycle order X,Y gives X,Y,X.
	in := []track.Track{
		testTrack("A", "X", "uri:a"),
		testTrack("B", "X", "uri:b"),
		testTrack("C", "Y", "uri:c"),
	}

	out := SmartShuffle(in)
	assert.Equal(t, []string{"A", "C", "B"}, titles(out))
}

func TestSmartShufflePreservesLengthAndTracks(t *testing.T) {
	in := []track.Track{
		testTrack("A1", "X", "uri:a1"),
		testTrack("B1", "Y", "uri:b1"),
		testTrack("A2", "X", "uri:a2"),
		testTrack("C1", "Z", "uri:c1"),
		testTrack("B2", "Y", "uri:b2"),
		testTrack("A3", "X", "uri:a3"),
	}

	out := SmartShuffle(in)
	require.Len(t, out, len(in))
	assert.ElementsMatch(t, titles(in), titles(out))
}

func TestSmartShufflePreservesPerArtistOrder(t *testing.T) {
	in := []track.Track{
		testTrack("A1", "X", "uri:a1"),
		testTrack("A2", "X", "uri:a2"),
		testTrack("B1", "Y", "uri:b1"),
		testTrack("A3", "X", "uri:a3"),
	}

	out := SmartShuffle(in)
	var xs []string
	for _, tr := range out {
		if tr.Author == "X" {
			xs = append(xs, tr.Title)
		}
	}
	assert.Equal(t, []string{"A1", "A2", "A3"}, xs, "per-artist relative order must survive")
}

// Two same-author tracks may only touch once that author dominates the
// remainder, i.e. everything from the first repeat onward is that author.
func TestSmartShuffleNoAdjacentSameArtist(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	authors := []string{"X", "Y", "Z", "W"}

	for trial := 0; trial < 100; trial++ {
		n := 2 + rng.Intn(20)
		in := make([]track.Track, n)
		for i := range in {
			a := authors[rng.Intn(len(authors))]
			in[i] = testTrack(a+"-"+string(rune('a'+i)), a, "")
		}

		out := SmartShuffle(in)
		require.Len(t, out, n)
		for i := 1; i < len(out); i++ {
			if out[i-1].Author != out[i].Author {
				continue
			}
			for j := i; j < len(out); j++ {
				assert.Equal(t, out[i].Author, out[j].Author,
					"trial %d: adjacency at %d without the author dominating the tail", trial, i)
			}
		}
	}
}

func TestSmartShuffleDominantArtistStillComplete(t *testing.T) {
	in := []track.Track{
		testTrack("A1", "X", "uri:a1"),
		testTrack("A2", "X", "uri:a2"),
		testTrack("A3", "X", "uri:a3"),
		testTrack("A4", "X", "uri:a4"),
		testTrack("B1", "Y", "uri:b1"),
	}

	out := SmartShuffle(in)
	require.Len(t, out, 5)
	assert.ElementsMatch(t, titles(in), titles(out))
}

func TestSmartShuffleSmallInputs(t *testing.T) {
	assert.Empty(t, SmartShuffle(nil))

	one := []track.Track{testTrack("A", "X", "uri:a")}
	assert.Equal(t, one, SmartShuffle(one))
}
