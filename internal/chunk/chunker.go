// Package chunk implements the deterministic, sentence-boundary-aware text
// chunker described in spec §4.3: a fixed character budget with overlap,
// falling back to a hard split when no sentence boundary is available.
package chunk

import (
	"regexp"
)

// Chunk is one bounded slice of a larger text, suitable for a single
// embedding call.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// Options tunes the chunker. Zero values fall back to the spec defaults
// (8000 char budget, 200 char overlap).
type Options struct {
	Budget  int
	Overlap int
}

const (
	defaultBudget  = 8000
	defaultOverlap = 200
)

func (o Options) resolve() (budget, overlap int) {
	budget = o.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	overlap = o.Overlap
	if overlap <= 0 || overlap >= budget {
		overlap = defaultOverlap
	}
	return budget, overlap
}

// sentenceBoundaryRe matches the end of a sentence: a terminator followed
// by whitespace (or end of string).
var sentenceBoundaryRe = regexp.MustCompile(`[.!?][\s]+`)

// Split divides text into chunks of at most budget characters, each
// overlapping the previous by up to overlap characters, preferring to cut
// at a sentence boundary within the tail of the window and falling back to
// a hard split when none exists. Text shorter than the budget yields
// exactly one chunk (spec §4.3's "input shorter than budget yields one
// chunk").
func Split(text string, opts Options) []Chunk {
	budget, overlap := opts.resolve()
	if len(text) <= budget {
		if text == "" {
			return nil
		}
		return []Chunk{{Index: 0, Total: 1, Text: text}}
	}

	var pieces []string
	start := 0
	for start < len(text) {
		end := start + budget
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}
		cut := bestCutPoint(text, start, end)
		pieces = append(pieces, text[start:cut])
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	out := make([]Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = Chunk{Index: i, Total: len(pieces), Text: p}
	}
	return out
}

// bestCutPoint looks for the last sentence boundary inside text[start:end]
// that still leaves at least half the budget consumed, so a cut isn't
// pathologically close to start. Falls back to a hard cut at end (or the
// nearest preceding whitespace) when no such boundary exists.
func bestCutPoint(text string, start, end int) int {
	window := text[start:end]
	matches := sentenceBoundaryRe.FindAllStringIndex(window, -1)
	minAdvance := (end - start) / 2
	for i := len(matches) - 1; i >= 0; i-- {
		cut := matches[i][1]
		if cut >= minAdvance {
			return start + cut
		}
	}
	// No usable sentence boundary: fall back to the last whitespace run in
	// the back half of the window, else a hard split at end.
	for i := end - 1; i > start+minAdvance; i-- {
		if text[i] == ' ' || text[i] == '\n' || text[i] == '\t' {
			return i + 1
		}
	}
	return end
}
