// Package scanner matches a compiled grammar against text and records the
// resulting scopes.
package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/scoped"
)

// Callback receives every scope with a non-empty range, in the order the
// matches were resolved.
type Callback func(scope string, r position.Range)

// Parser scans texts with one grammar. A Parser holds no per-pass state and
// may run any number of passes concurrently.
type Parser struct {
	grammar *grammar.Grammar
}

func New(g *grammar.Grammar) *Parser {
	return &Parser{grammar: g}
}

func (p *Parser) Grammar() *grammar.Grammar {
	return p.grammar
}

// Parse scans the whole text and returns its scoped text. The callback may be
// nil. When ctx is cancelled nothing is reported and the context's error is
// returned.
func (p *Parser) Parse(ctx context.Context, text string, cb Callback) (*scoped.Text, error) {
	start := time.Now()
	doc := scoped.New(text, p.grammar.ScopeName)
	runes := doc.Runes()

	m := newMatcher(ctx, runes)
	results, _, _, _, err := m.scan(p.grammar.Root.Children, nil, grammar.EndBeforeChildren, 0, len(runes))
	if err != nil {
		return nil, errors.Errorf("parsing: %w", err)
	}

	spans := flatten(results, nil)
	emit(cb, doc.Base())
	for _, s := range spans {
		if s.Range.IsEmpty() {
			continue
		}
		doc.AddAtTop(s)
		emit(cb, s)
	}

	zerolog.Ctx(ctx).Debug().
		Str("scope", p.grammar.ScopeName).
		Int("length", len(runes)).
		Int("spans", len(spans)).
		Int("levels", doc.Levels()).
		Dur("took", time.Since(start)).
		Msg("parsed text")

	return doc, nil
}

// ParseRange rescans part of a document whose spans were recorded for an
// earlier version of the same text and have since been moved along with the
// edit. Scanning starts at the beginning of the line holding r.Start, inside
// whatever blocks were open there, and runs at least to r's end; blocks that
// were open keep going until they close. Stale spans inside the rescanned
// range are replaced. The rescanned range is returned.
//
// On cancellation the document is left untouched and nothing is reported.
func (p *Parser) ParseRange(ctx context.Context, doc *scoped.Text, r position.Range, cb Callback) (position.Range, error) {
	text := doc.Runes()
	if r.Start < 0 || r.End() > len(text) {
		return position.Range{}, errors.Errorf("range %s outside text of length %d", r, len(text))
	}
	start := position.LineStart(text, r.Start)
	stop := max(r.End(), start)

	m := newMatcher(ctx, text)
	pos := start

	var (
		fresh   []scoped.Span
		resumed []resumedBlock
	)

	blocks := openBlocks(doc, start)
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		rule := b.Rule
		body, endMatch, ended, next, err := m.scan(rule.Children, rule.End, rule.EndPriority, pos, len(text))
		if err != nil {
			return position.Range{}, errors.Errorf("resuming %q: %w", rule.Scope, err)
		}
		end := len(text)
		if ended {
			end = endMatch.Range().End()
			body = append(body, captures(rule.EndCaptures, endMatch)...)
		} else {
			next = len(text)
		}

		updated := b
		updated.Range = position.NewRange(b.Range.Start, end)
		updated.Open = !ended
		resumed = append(resumed, resumedBlock{old: b, updated: updated})
		fresh = flatten(body, fresh)
		pos = max(next, pos)

		if updated == b {
			// the block closed where it did before, so everything outside
			// it is still accurate
			if pos >= stop {
				break
			}
		} else {
			// text the block used to cover, or now covers, needs a new look
			stop = max(stop, b.Range.End(), end)
		}
	}

	unwound := len(resumed) == len(blocks)
	var processed position.Range
	for {
		if pos < stop && unwound {
			results, _, _, next, err := m.scan(p.grammar.Root.Children, nil, grammar.EndBeforeChildren, pos, stop)
			if err != nil {
				return position.Range{}, errors.Errorf("parsing range: %w", err)
			}
			fresh = flatten(results, fresh)
			pos = max(next, pos)
		}

		processed = position.NewRange(start, max(pos, stop))
		for _, s := range fresh {
			processed = processed.Union(s.Range)
		}
		for _, b := range resumed {
			processed = processed.Union(position.NewRange(start, b.updated.Range.End()))
		}

		// a recorded span that started in the rescanned text but reaches
		// past it came from a match that no longer happens the same way
		stale := staleEnd(doc, processed)
		if !unwound || stale <= processed.End() {
			break
		}
		stop = stale
	}

	// nothing below may fail; the document changes only from here on
	for i := len(resumed) - 1; i >= 0; i-- {
		doc.Replace(resumed[i].old, resumed[i].updated)
	}
	doc.RemoveWithin(processed)
	for _, b := range resumed {
		doc.RemoveCrossing(b.updated.Range)
	}
	for _, s := range fresh {
		if !s.Range.IsEmpty() {
			doc.RemoveCrossing(s.Range)
		}
	}

	emit(cb, scoped.Span{Name: p.grammar.ScopeName, Range: processed})
	for i := len(resumed) - 1; i >= 0; i-- {
		emit(cb, resumed[i].updated)
	}
	for _, s := range fresh {
		if s.Range.IsEmpty() {
			continue
		}
		doc.AddAtTop(s)
		emit(cb, s)
	}

	zerolog.Ctx(ctx).Debug().
		Stringer("requested", r).
		Stringer("processed", processed).
		Int("resumed", len(resumed)).
		Int("spans", len(fresh)).
		Msg("parsed range")

	return processed, nil
}

// staleEnd returns the furthest end of the spans starting inside r.
func staleEnd(doc *scoped.Text, r position.Range) int {
	end := r.End()
	for _, s := range doc.Spans() {
		if r.ContainsIndex(s.Range.Start) {
			end = max(end, s.Range.End())
		}
	}
	return end
}

type resumedBlock struct {
	old     scoped.Span
	updated scoped.Span
}

// openBlocks returns the recorded block spans that were open at index,
// outermost first. A block still waiting for its end is open at its own end
// too.
func openBlocks(doc *scoped.Text, index int) []scoped.Span {
	var out []scoped.Span
	for k := 1; k < doc.Levels(); k++ {
		for _, s := range doc.Level(k) {
			if s.Rule == nil || s.Rule.Kind != grammar.KindBeginEnd {
				continue
			}
			if s.Range.Start >= index {
				continue
			}
			if index < s.Range.End() || (s.Open && index == s.Range.End()) {
				out = append(out, s)
			}
		}
	}
	return out
}

// flatten appends results and their nested results to spans, parents first.
func flatten(results []result, spans []scoped.Span) []scoped.Span {
	for _, r := range results {
		spans = append(spans, scoped.Span{Name: r.scope, Range: r.rng, Rule: r.rule, Open: r.open})
		spans = flatten(r.children, spans)
	}
	return spans
}

func emit(cb Callback, s scoped.Span) {
	if cb == nil || s.Name == "" || s.Range.IsEmpty() {
		return
	}
	cb(s.Name, s.Range)
}
