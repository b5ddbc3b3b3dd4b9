// Package passage holds the reference texts a performer practises against
// and the position-indexed view the assessment engine keys all of its state
// by.
//
// A [Passage] is the raw stored record: an ordered list of lines, each a
// front/back pair (the cue shown to the performer, and the text they must
// recite). A [Reference] is derived from a passage exactly once and is pure
// data: the same passage always yields the same indexing, because every
// downstream component — judges, consensus, attempt history — addresses
// words by (lineIndex, wordIndex) coordinates.
package passage

import (
	"fmt"
	"strings"
)

// Line is one stored line of a passage.
type Line struct {
	// Index is the line's position within the passage, starting at 0.
	Index int `yaml:"-"`

	// Front is the cue side: a speaker label, the preceding line, or a prompt.
	// Not part of the recited text.
	Front string `yaml:"front"`

	// Back is the text the performer must recite.
	Back string `yaml:"back"`
}

// Passage is a stored reference text.
type Passage struct {
	// Ref is the stable identifier used in URLs and attempt logs.
	Ref string `yaml:"ref"`

	// Title is the human-readable display name.
	Title string `yaml:"title"`

	// Lines is the ordered line list.
	Lines []Line `yaml:"lines"`
}

// Reference is the position-indexed representation of a passage's recited
// text. It is immutable after construction and safe for concurrent use.
type Reference struct {
	words [][]string
	total int
}

// BuildReference derives the indexed representation from p. Words are the
// whitespace-separated tokens of each line's back text, punctuation kept
// attached; empty lines produce empty word lists and keep their index.
func BuildReference(p *Passage) *Reference {
	r := &Reference{words: make([][]string, len(p.Lines))}
	for i, line := range p.Lines {
		ws := strings.Fields(line.Back)
		r.words[i] = ws
		r.total += len(ws)
	}
	return r
}

// LineCount returns the number of lines in the reference.
func (r *Reference) LineCount() int { return len(r.words) }

// WordCount returns the number of words in the given line, or 0 when the
// line index is out of bounds.
func (r *Reference) WordCount(line int) int {
	if line < 0 || line >= len(r.words) {
		return 0
	}
	return len(r.words[line])
}

// TotalWords returns the total word count across all lines.
func (r *Reference) TotalWords() int { return r.total }

// WordAt returns the literal word at the given 0-based coordinates.
// ok is false when the coordinates fall outside the reference.
func (r *Reference) WordAt(line, word int) (text string, ok bool) {
	if line < 0 || line >= len(r.words) {
		return "", false
	}
	if word < 0 || word >= len(r.words[line]) {
		return "", false
	}
	return r.words[line][word], true
}

// InBounds reports whether the given 0-based coordinates address a word that
// exists in the reference.
func (r *Reference) InBounds(line, word int) bool {
	_, ok := r.WordAt(line, word)
	return ok
}

// Words returns the word list of the given line. The returned slice must be
// treated as read-only. Returns nil for out-of-bounds lines.
func (r *Reference) Words(line int) []string {
	if line < 0 || line >= len(r.words) {
		return nil
	}
	return r.words[line]
}

// Numbered renders the reference in the flattened numbered form included in
// judge payloads. Lines and words are numbered from 1, matching the
// coordinates judges are asked to report:
//
//	line 1: To[1] be,[2] or[3] not[4] to[5] be,[6]
//	line 2: that[1] is[2] the[3] question:[4]
//
// Empty lines are skipped.
func (r *Reference) Numbered() string {
	var sb strings.Builder
	for li, words := range r.words {
		if len(words) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "line %d:", li+1)
		for wi, w := range words {
			fmt.Fprintf(&sb, " %s[%d]", w, wi+1)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
