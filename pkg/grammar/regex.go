package grammar

import (
	"time"

	"github.com/dlclark/regexp2"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/position"
)

// Regex is a compiled grammar expression. Offsets are rune indexes.
type Regex struct {
	source string
	re     *regexp2.Regexp
}

// CompileRegex compiles a grammar expression. A zero timeout means no limit.
func CompileRegex(source string, timeout time.Duration) (*Regex, error) {
	re, err := regexp2.Compile(source, regexp2.Multiline)
	if err != nil {
		return nil, errors.Errorf("compiling %q: %w", source, err)
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	return &Regex{source: source, re: re}, nil
}

func (r *Regex) String() string {
	return r.source
}

// Match is the result of a successful search: group 0 is the whole match,
// groups that did not participate are absent.
type Match struct {
	groups  []position.Range
	present []bool
}

// Range returns the range of the whole match.
func (m Match) Range() position.Range {
	return m.groups[0]
}

// Group returns the range of the numbered group and whether it participated.
func (m Match) Group(i int) (position.Range, bool) {
	if i < 0 || i >= len(m.groups) || !m.present[i] {
		return position.Range{}, false
	}
	return m.groups[i], true
}

// Groups returns the number of groups, including group 0.
func (m Match) Groups() int {
	return len(m.groups)
}

// FindAt searches text[:limit] for the first match starting at or after start.
func (r *Regex) FindAt(text []rune, start, limit int) (Match, bool, error) {
	limit = min(limit, len(text))
	if start > limit {
		return Match{}, false, nil
	}
	m, err := r.re.FindRunesMatchStartingAt(text[:limit], start)
	if err != nil {
		return Match{}, false, errors.Errorf("matching %q at %d: %w", r.source, start, err)
	}
	if m == nil {
		return Match{}, false, nil
	}

	numbers := r.re.GetGroupNumbers()
	size := 0
	for _, n := range numbers {
		size = max(size, n+1)
	}
	out := Match{
		groups:  make([]position.Range, size),
		present: make([]bool, size),
	}
	for _, n := range numbers {
		g := m.GroupByNumber(n)
		if g == nil || len(g.Captures) == 0 {
			continue
		}
		out.groups[n] = position.Range{Start: g.Index, Length: g.Length}
		out.present[n] = true
	}
	out.groups[0] = position.Range{Start: m.Index, Length: m.Length}
	out.present[0] = true
	return out, true, nil
}
