// Package scoped stores the scope spans produced for a text in layers.
//
// Level 0 is an implicit span over the whole text. Every stored level holds
// non-overlapping spans sorted by start, and each span lies inside a span of
// the level below it. A span is added to the lowest (or highest) level that
// can hold it without overlap; a new level is created when none can.
package scoped

import (
	"slices"
	"sort"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/position"
)

// Span is a named range. Rule is set only on spans that open a begin/end
// block, so matching can resume inside the block later. Open marks a block
// without an end match: it never found one and runs to the end of the text,
// or an edit cut its end away.
type Span struct {
	Name  string
	Range position.Range
	Rule  *grammar.Pattern
	Open  bool
}

// Same reports whether both spans carry the same name and range.
func (s Span) Same(o Span) bool {
	return s.Name == o.Name && s.Range == o.Range
}

// Text is a text plus the scope spans recorded for it. It is not safe for
// concurrent mutation.
type Text struct {
	text   []rune
	base   string
	levels [][]Span
}

// New returns a text without any stored spans. base names the implicit
// level 0 span.
func New(text string, base string) *Text {
	return &Text{text: []rune(text), base: base}
}

func (t *Text) String() string {
	return string(t.text)
}

// Runes returns the text. The slice must not be modified.
func (t *Text) Runes() []rune {
	return t.text
}

func (t *Text) Len() int {
	return len(t.text)
}

// Base returns the implicit span over the whole text.
func (t *Text) Base() Span {
	return Span{Name: t.base, Range: position.Range{Start: 0, Length: len(t.text)}}
}

// Levels returns the number of levels including the implicit one.
func (t *Text) Levels() int {
	return len(t.levels) + 1
}

// Level returns a copy of the spans stored at level k, k >= 1.
func (t *Text) Level(k int) []Span {
	if k < 1 || k > len(t.levels) {
		return nil
	}
	return slices.Clone(t.levels[k-1])
}

// Count returns the number of spans including the implicit one.
func (t *Text) Count() int {
	n := 1
	for _, level := range t.levels {
		n += len(level)
	}
	return n
}

// Spans returns every stored span, bottom level first.
func (t *Text) Spans() []Span {
	var out []Span
	for _, level := range t.levels {
		out = append(out, level...)
	}
	return out
}

func (t *Text) Clone() *Text {
	c := &Text{text: slices.Clone(t.text), base: t.base, levels: make([][]Span, len(t.levels))}
	for i, level := range t.levels {
		c.levels[i] = slices.Clone(level)
	}
	return c
}

// Equal reports whether both texts and all their levels match.
func (t *Text) Equal(o *Text) bool {
	if t.base != o.base || !slices.Equal(t.text, o.text) || len(t.levels) != len(o.levels) {
		return false
	}
	for i := range t.levels {
		if !slices.Equal(t.levels[i], o.levels[i]) {
			return false
		}
	}
	return true
}

func conflicts(level []Span, r position.Range) (Span, bool) {
	for _, s := range level {
		if s.Range.Intersects(r) {
			return s, true
		}
	}
	return Span{}, false
}

func insertSorted(level []Span, s Span) []Span {
	i := sort.Search(len(level), func(i int) bool { return level[i].Range.Start > s.Range.Start })
	return slices.Insert(level, i, s)
}

// AddAtTop places s in the lowest level it fits in, appending a new top
// level when it fits nowhere. Results matched outermost first go in this way.
func (t *Text) AddAtTop(s Span) {
	for i := range t.levels {
		if _, ok := conflicts(t.levels[i], s.Range); !ok {
			t.levels[i] = insertSorted(t.levels[i], s)
			return
		}
	}
	t.levels = append(t.levels, []Span{s})
}

// AddAtBottom places s in the highest level it fits in, inserting a new
// bottom level when it fits nowhere.
func (t *Text) AddAtBottom(s Span) {
	for i := len(t.levels) - 1; i >= 0; i-- {
		if _, ok := conflicts(t.levels[i], s.Range); !ok {
			t.levels[i] = insertSorted(t.levels[i], s)
			return
		}
	}
	t.levels = slices.Insert(t.levels, 0, []Span{s})
}

// TopmostAt returns the innermost span containing index, or the base span.
func (t *Text) TopmostAt(index int) Span {
	if s, ok := t.SpanAt(index); ok {
		return s
	}
	return t.Base()
}

// SpanAt returns the innermost stored span containing index.
func (t *Text) SpanAt(index int) (Span, bool) {
	at := position.Range{Start: index}
	for i := len(t.levels) - 1; i >= 0; i-- {
		if s, ok := conflicts(t.levels[i], at); ok {
			return s, true
		}
	}
	return Span{}, false
}

// LowerSpan returns the span directly beneath s at index: the next span
// containing index below the level of s, or the base span.
func (t *Text) LowerSpan(s Span, index int) Span {
	at := position.Range{Start: index}
	found := false
	for i := len(t.levels) - 1; i >= 0; i-- {
		c, ok := conflicts(t.levels[i], at)
		if !ok {
			continue
		}
		if found {
			return c
		}
		found = c.Same(s)
	}
	return t.Base()
}

// LevelOf returns the level holding s, 0 for the base span and -1 when s is
// not stored.
func (t *Text) LevelOf(s Span) int {
	for i, level := range t.levels {
		for _, c := range level {
			if c.Same(s) {
				return i + 1
			}
		}
	}
	if s.Same(t.Base()) {
		return 0
	}
	return -1
}

func (t *Text) dropEmptyLevels() {
	t.levels = slices.DeleteFunc(t.levels, func(level []Span) bool { return len(level) == 0 })
}

// RemoveWithin removes every span lying entirely inside r.
func (t *Text) RemoveWithin(r position.Range) {
	t.removeFunc(func(s Span) bool { return r.Contains(s.Range) })
}

// RemoveCrossing removes every span that overlaps r without either one
// containing the other.
func (t *Text) RemoveCrossing(r position.Range) {
	t.removeFunc(func(s Span) bool { return s.Range.Crosses(r) })
}

// Remove deletes the stored span equal to s, rule included.
func (t *Text) Remove(s Span) bool {
	removed := false
	t.removeFunc(func(c Span) bool {
		if !removed && c == s {
			removed = true
			return true
		}
		return false
	})
	return removed
}

// Replace puts s in place of the stored span equal to old, rule included,
// on the same level. Spans s now overlaps are left for the caller to remove.
func (t *Text) Replace(old, s Span) bool {
	for i, level := range t.levels {
		j := slices.Index(level, old)
		if j < 0 {
			continue
		}
		t.levels[i] = insertSorted(slices.Delete(level, j, j+1), s)
		return true
	}
	return false
}

func (t *Text) removeFunc(fn func(Span) bool) {
	for i := range t.levels {
		t.levels[i] = slices.DeleteFunc(t.levels[i], fn)
	}
	t.dropEmptyLevels()
}

// InsertText inserts s at index. Spans containing index strictly after their
// start grow; spans starting at or after index shift right. An open span
// ending at index grows as well.
func (t *Text) InsertText(s string, index int) error {
	if index < 0 || index > len(t.text) {
		return errors.Errorf("insert index %d outside text of length %d", index, len(t.text))
	}
	ins := []rune(s)
	t.text = slices.Insert(t.text, index, ins...)
	r := position.Range{Start: index, Length: len(ins)}
	for _, level := range t.levels {
		for j := range level {
			if level[j].Open && !level[j].Range.IsEmpty() && level[j].Range.End() == index {
				level[j].Range.Length += len(ins)
				continue
			}
			level[j].Range = level[j].Range.InsertIndexes(r)
		}
	}
	return nil
}

// DeleteRange cuts r out of the text and out of every span. Spans the cut
// reduces to nothing are removed, as are levels left empty. A block losing
// its tail becomes open.
func (t *Text) DeleteRange(r position.Range) error {
	if r.Start < 0 || r.Length < 0 || r.End() > len(t.text) {
		return errors.Errorf("delete range %s outside text of length %d", r, len(t.text))
	}
	t.text = slices.Delete(t.text, r.Start, r.End())
	for i, level := range t.levels {
		kept := level[:0]
		for _, s := range level {
			before := s.Range
			s.Range = s.Range.RemoveIndexes(r)
			if s.Range.IsEmpty() && !before.IsEmpty() {
				continue
			}
			if s.Rule != nil && r.Length > 0 && r.Start < before.End() && r.End() >= before.End() {
				// the block's end match went with the cut
				s.Open = true
			}
			kept = append(kept, s)
		}
		t.levels[i] = kept
	}
	t.dropEmptyLevels()
	return nil
}
