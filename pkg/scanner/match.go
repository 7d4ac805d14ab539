package scanner

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/position"
)

// result is one matched scope with the scopes nested under it.
type result struct {
	scope    string
	rng      position.Range
	rule     *grammar.Pattern
	open     bool
	children []result
}

type candidate struct {
	pattern *grammar.Pattern
	match   grammar.Match
}

func (c candidate) start() int {
	return c.match.Range().Start
}

// opening is a begin/end rule whose begin matched empty at a position.
type opening struct {
	rule *grammar.Pattern
	at   int
}

// matcher runs one pass over a text. It is not reused across passes.
type matcher struct {
	ctx    context.Context
	logger *zerolog.Logger
	text   []rune
	// blocks opened by an empty begin match whose bodies are being scanned
	open map[opening]bool
}

func newMatcher(ctx context.Context, text []rune) *matcher {
	return &matcher{ctx: ctx, logger: zerolog.Ctx(ctx), text: text, open: map[opening]bool{}}
}

func (m *matcher) find(re *grammar.Regex, start, limit int) (grammar.Match, bool) {
	mm, ok, err := re.FindAt(m.text, start, limit)
	if err != nil {
		m.logger.Debug().Err(err).Msg("regex failed, treating as no match")
		return grammar.Match{}, false
	}
	return mm, ok
}

// best finds the rule among patterns whose match starts first in
// [start, limit). A match at start wins outright; otherwise the earliest
// start wins and declaration order breaks ties.
func (m *matcher) best(patterns []*grammar.Pattern, start, limit int, visiting map[*grammar.Pattern]bool) (candidate, bool, error) {
	var (
		best  candidate
		found bool
	)
	for _, p := range patterns {
		if err := m.ctx.Err(); err != nil {
			return candidate{}, false, err
		}
		p = p.Resolve()
		if p == nil {
			continue
		}

		var (
			c  candidate
			ok bool
		)
		switch p.Kind {
		case grammar.KindMatch:
			c.pattern = p
			c.match, ok = m.find(p.Match, start, limit)
		case grammar.KindBeginEnd:
			c.pattern = p
			c.match, ok = m.find(p.Begin, start, limit)
			// a rule may not open empty again where it already did; that
			// block would never make progress
			for ok && c.match.Range().IsEmpty() && m.open[opening{rule: p, at: c.start()}] {
				c.match, ok = m.find(p.Begin, c.start()+1, limit)
			}
		case grammar.KindContainer:
			// a container reached again at the same position cannot match
			// anything its first visit did not
			if visiting[p] {
				continue
			}
			visiting[p] = true
			var err error
			c, ok, err = m.best(p.Children, start, limit, visiting)
			delete(visiting, p)
			if err != nil {
				return candidate{}, false, err
			}
		}
		if !ok {
			continue
		}
		if c.start() == start {
			return c, true, nil
		}
		if !found || c.start() < best.start() {
			best, found = c, true
		}
	}
	return best, found, nil
}

// scan matches patterns from pos onwards. With an end pattern it returns once
// end matches, reporting the end match; without one it returns once pos
// reaches stop. Ordinary rules only ever see the current line, the end
// pattern sees the rest of the text.
func (m *matcher) scan(patterns []*grammar.Pattern, end *grammar.Regex, priority grammar.EndPriority, pos, stop int) ([]result, grammar.Match, bool, int, error) {
	var (
		results     []result
		endMatch    grammar.Match
		endFound    bool
		endSearched bool
	)
	for pos < len(m.text) && (end != nil || pos < stop) {
		lineEnd := position.LineEnd(m.text, pos)

		if end != nil && (!endSearched || (endFound && endMatch.Range().Start < pos)) {
			endMatch, endFound = m.find(end, pos, len(m.text))
			endSearched = true
		}

		child, childFound, err := m.best(patterns, pos, lineEnd, map[*grammar.Pattern]bool{})
		if err != nil {
			return nil, grammar.Match{}, false, pos, err
		}

		if endFound {
			es := endMatch.Range().Start
			if !childFound || es < child.start() || (es == child.start() && priority == grammar.EndBeforeChildren) {
				return results, endMatch, true, endMatch.Range().End(), nil
			}
		}

		if !childFound {
			pos = lineEnd
			continue
		}

		res, next, err := m.apply(child)
		if err != nil {
			return nil, grammar.Match{}, false, pos, err
		}
		results = append(results, res...)
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}

	// the text ran out; an empty end match may still fit at its very end
	if endFound && endMatch.Range().Start >= pos {
		return results, endMatch, true, endMatch.Range().End(), nil
	}
	if end != nil && (!endSearched || (endFound && endMatch.Range().Start < pos)) {
		if mm, ok := m.find(end, pos, len(m.text)); ok {
			return results, mm, true, mm.Range().End(), nil
		}
	}
	return results, grammar.Match{}, false, pos, nil
}

// apply turns an accepted candidate into results and returns the position
// after it.
func (m *matcher) apply(c candidate) ([]result, int, error) {
	p := c.pattern
	r := c.match.Range()

	if p.Kind == grammar.KindMatch {
		caps := captures(p.Captures, c.match)
		if p.Scope == "" {
			return caps, r.End(), nil
		}
		return []result{{scope: p.Scope, rng: r, children: caps}}, r.End(), nil
	}

	if r.IsEmpty() {
		key := opening{rule: p, at: r.Start}
		m.open[key] = true
		defer delete(m.open, key)
	}
	body, endMatch, ended, next, err := m.scan(p.Children, p.End, p.EndPriority, r.End(), len(m.text))
	if err != nil {
		return nil, next, err
	}
	block := m.block(p, r.Start, captures(p.BeginCaptures, c.match), body, endMatch, ended)
	if !ended {
		next = len(m.text)
	}
	return []result{block}, next, nil
}

// block assembles the result for a begin/end rule opened at start. An
// unterminated block runs to the end of the text.
func (m *matcher) block(p *grammar.Pattern, start int, begin, body []result, endMatch grammar.Match, ended bool) result {
	res := result{scope: p.Scope, rule: p}
	res.children = append(res.children, begin...)
	res.children = append(res.children, body...)
	if ended {
		res.children = append(res.children, captures(p.EndCaptures, endMatch)...)
		res.rng = position.NewRange(start, endMatch.Range().End())
	} else {
		res.rng = position.NewRange(start, len(m.text))
		res.open = true
	}
	return res
}

// captures returns one result per named group that took part in the match,
// outer groups before the groups they contain.
func captures(names grammar.CaptureMap, mm grammar.Match) []result {
	if len(names) == 0 {
		return nil
	}
	var out []result
	for _, i := range names.Indexes() {
		r, ok := mm.Group(i)
		if !ok {
			continue
		}
		out = append(out, result{scope: names[i], rng: r})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].rng.Start != out[b].rng.Start {
			return out[a].rng.Start < out[b].rng.Start
		}
		return out[a].rng.Length > out[b].rng.Length
	})
	return out
}
