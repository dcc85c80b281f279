package queue

import "github.com/groovebox-bot/groovebox/internal/domain/track"

// SmartShuffle reorders tracks so plays alternate between artists: tracks are
// grouped by author preserving each group's relative order, then the distinct
// authors are cycled in first-appearance order, each visit emitting that
// author's earliest remaining track. An author whose group empties drops out
// of the cycle. The output is the same length as the input, and no two
// same-author tracks end up adjacent unless one author has more tracks than
// all others combined.
func SmartShuffle(in []track.Track) []track.Track {
	if len(in) < 2 {
		return in
	}

	groups := make(map[string][]track.Track)
	var authors []string
	for _, t := range in {
		if _, ok := groups[t.Author]; !ok {
			authors = append(authors, t.Author)
		}
		groups[t.Author] = append(groups[t.Author], t)
	}

	out := make([]track.Track, 0, len(in))
	for len(authors) > 0 {
		next := authors[:0]
		for _, a := range authors {
			g := groups[a]
			out = append(out, g[0])
			if len(g) > 1 {
				groups[a] = g[1:]
				next = append(next, a)
			}
		}
		authors = next
	}
	return out
}
