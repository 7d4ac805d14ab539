// Package position models half-open ranges over the code units of a text.
//
// A code unit is one Unicode code point: texts are indexed as []rune so that
// offsets line up with the regex engine, which matches over runes.
package position

import (
	"fmt"
)

// Range is a half-open interval [Start, Start+Length) over code units.
type Range struct {
	Start  int
	Length int
}

// Place is a zero-based line/column pair.
type Place struct {
	Line      int
	Character int
}

func NewRange(start, end int) Range {
	if end < start {
		end = start
	}
	return Range{Start: start, Length: end - start}
}

func (r Range) End() int {
	return r.Start + r.Length
}

func (r Range) IsEmpty() bool {
	return r.Length == 0
}

// ContainsIndex reports whether index lies in r. An empty range contains
// exactly its own start.
func (r Range) ContainsIndex(index int) bool {
	if r.Length == 0 {
		return index == r.Start
	}
	return index >= r.Start && index < r.End()
}

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && r.End() >= other.End()
}

// Intersects reports whether the two ranges share at least one code unit. An
// empty range intersects a range that contains its start.
func (r Range) Intersects(other Range) bool {
	switch {
	case r.Length == 0:
		return other.ContainsIndex(r.Start)
	case other.Length == 0:
		return r.ContainsIndex(other.Start)
	}
	return r.Start < other.End() && other.Start < r.End()
}

// Crosses reports whether the ranges overlap without one containing the other.
func (r Range) Crosses(other Range) bool {
	return r.Intersects(other) && !r.Contains(other) && !other.Contains(r)
}

func (r Range) Union(other Range) Range {
	return NewRange(min(r.Start, other.Start), max(r.End(), other.End()))
}

// Intersection returns the overlap of both ranges, empty when they are disjoint.
func (r Range) Intersection(other Range) Range {
	start := max(r.Start, other.Start)
	end := min(r.End(), other.End())
	if end < start {
		return Range{Start: start}
	}
	return NewRange(start, end)
}

// RemoveIndexes returns r after the code units of removed were cut out of the
// text: r shrinks by the overlap and shifts left by whatever was removed in
// front of it.
func (r Range) RemoveIndexes(removed Range) Range {
	out := r
	out.Length -= removed.Intersection(r).Length
	if removed.Start < r.Start {
		out.Start -= removed.Intersection(Range{Start: 0, Length: r.Start}).Length
	}
	return out
}

// InsertIndexes returns r after inserted.Length code units were inserted at
// inserted.Start. An insertion strictly inside r stretches it, one at or
// before its start shifts it.
func (r Range) InsertIndexes(inserted Range) Range {
	out := r
	switch {
	case r.Start < inserted.Start && inserted.Start < r.End():
		out.Length += inserted.Length
	case inserted.Start <= r.Start:
		out.Start += inserted.Length
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("(%d,%d)", r.Start, r.Length)
}

// LineStart returns the offset of the first code unit of the line holding index.
func LineStart(text []rune, index int) int {
	index = clamp(index, len(text))
	for i := index - 1; i >= 0; i-- {
		if text[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// LineEnd returns the offset just past the terminator of the line holding
// index, or the text length for the last line.
func LineEnd(text []rune, index int) int {
	index = clamp(index, len(text))
	for i := index; i < len(text); i++ {
		if text[i] == '\n' {
			return i + 1
		}
	}
	return len(text)
}

// LineRange returns the full lines, terminators included, touched by r.
func LineRange(text []rune, r Range) Range {
	last := r.Start
	if r.Length > 0 {
		last = r.End() - 1
	}
	return NewRange(LineStart(text, r.Start), LineEnd(text, last))
}

// LineAndColumn converts an offset into a zero-based line and column.
func LineAndColumn(text []rune, offset int) (line, col int) {
	offset = clamp(offset, len(text))
	lastNewline := -1
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lastNewline = i
		}
	}
	return line, offset - lastNewline - 1
}

// Place returns the line/column of the start of r.
func (r Range) Place(text []rune) Place {
	line, col := LineAndColumn(text, r.Start)
	return Place{Line: line, Character: col}
}

func clamp(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}
