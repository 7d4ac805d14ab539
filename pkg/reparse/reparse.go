// Package reparse works out how much of a document has to be rescanned
// after a single edit.
package reparse

import (
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/scoped"
)

// Edit is one contiguous change. For an insertion Range covers the inserted
// text in the new text; for a deletion it covers the removed text in the old.
type Edit struct {
	Insertion bool
	Range     position.Range
	// Text optionally holds the inserted text. When set it must match what
	// the new text holds at Range.
	Text string
}

func Insert(at int, text string) Edit {
	return Edit{Insertion: true, Range: position.Range{Start: at, Length: len([]rune(text))}, Text: text}
}

func Delete(r position.Range) Edit {
	return Edit{Range: r}
}

func (e Edit) String() string {
	if e.Insertion {
		return "insert " + e.Range.String()
	}
	return "delete " + e.Range.String()
}

// Compatible reports whether an edit can turn a text of oldLen code units
// into one of newLen.
func Compatible(oldLen, newLen int, e Edit) bool {
	if e.Range.Start < 0 || e.Range.Length < 0 {
		return false
	}
	if e.Insertion {
		return newLen-e.Range.Length == oldLen
	}
	return newLen+e.Range.Length == oldLen
}

// Apply performs the edit on doc, taking inserted text from newText.
func (e Edit) Apply(doc *scoped.Text, newText []rune) error {
	if !e.Insertion {
		return doc.DeleteRange(e.Range)
	}
	if e.Range.End() > len(newText) {
		return errors.Errorf("insertion %s outside new text of length %d", e.Range, len(newText))
	}
	inserted := string(newText[e.Range.Start:e.Range.End()])
	if e.Text != "" && e.Text != inserted {
		return errors.Errorf("inserted text %q does not match %q in new text", e.Text, inserted)
	}
	return doc.InsertText(inserted, e.Range.Start)
}

// Prepare applies the edit to a copy of prev and plans the rescan. The copy
// holds newText with every recorded span moved along with the edit, ready
// to be rescanned over the returned range. ok is false when the edit does
// not explain the difference between the two texts; the caller should then
// scan newText from scratch.
func Prepare(prev *scoped.Text, e Edit, newText string) (*scoped.Text, position.Range, bool) {
	text := []rune(newText)
	if !Compatible(prev.Len(), len(text), e) {
		return nil, position.Range{}, false
	}

	scratch := prev.Clone()
	if err := e.Apply(scratch, text); err != nil {
		return nil, position.Range{}, false
	}
	if scratch.String() != newText {
		return nil, position.Range{}, false
	}

	changed := e.Range
	if !e.Insertion {
		changed.Length = 0
	}
	lines := position.LineRange(text, changed)

	enclosing, ok := scratch.SpanAt(lines.End() - 1)
	if !ok {
		return scratch, lines, true
	}
	return scratch, lines.Union(position.NewRange(e.Range.Start, enclosing.Range.End())), true
}

// Plan returns the range to rescan after e turned prev's text into newText.
// ok is false when a full rescan is needed instead.
func Plan(prev *scoped.Text, e Edit, newText string) (position.Range, bool) {
	_, r, ok := Prepare(prev, e, newText)
	return r, ok
}
