package scanner_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tmscan/pkg/diff"
	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/reparse"
	"github.com/walteh/tmscan/pkg/scanner"
	"github.com/walteh/tmscan/pkg/scoped"
)

type emitted struct {
	Scope string
	Range position.Range
}

func rng(start, length int) position.Range {
	return position.Range{Start: start, Length: length}
}

func loadParser(t *testing.T, file string) *scanner.Parser {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", file))
	require.NoError(t, err)
	format, ok := grammar.FormatForPath(file)
	require.True(t, ok)
	def, err := grammar.Decode(data, format)
	require.NoError(t, err)

	ctx := context.Background()
	g, diags, err := grammar.Compile(ctx, def)
	require.NoError(t, err)
	require.Empty(t, diags)
	require.Empty(t, grammar.Link(ctx, []*grammar.Grammar{g}, g.ScopeName))
	return scanner.New(g)
}

func collect(t *testing.T, p *scanner.Parser, text string) ([]emitted, *scoped.Text) {
	t.Helper()
	var got []emitted
	doc, err := p.Parse(context.Background(), text, func(scope string, r position.Range) {
		got = append(got, emitted{scope, r})
	})
	require.NoError(t, err)
	return got, doc
}

func requireLevelInvariants(t *testing.T, doc *scoped.Text) {
	t.Helper()
	for k := 1; k < doc.Levels(); k++ {
		level := doc.Level(k)
		require.NotEmpty(t, level, "level %d", k)
		for i := 1; i < len(level); i++ {
			assert.LessOrEqual(t, level[i-1].Range.Start, level[i].Range.Start, "level %d not sorted", k)
			assert.False(t, level[i-1].Range.Intersects(level[i].Range), "level %d: %s overlaps %s", k, level[i-1].Range, level[i].Range)
		}
		if k == 1 {
			continue
		}
		for _, s := range level {
			contained := false
			for _, parent := range doc.Level(k - 1) {
				if parent.Range.Contains(s.Range) {
					contained = true
					break
				}
			}
			assert.True(t, contained, "level %d: %s %s has no parent", k, s.Name, s.Range)
		}
	}
}

func TestParseQuotedString(t *testing.T) {
	p := loadParser(t, "yaml.tmLanguage.json")
	got, doc := collect(t, p, "title: \"Hello World\"\n")

	want := []emitted{
		{"source.yaml", rng(0, 21)},
		{"entity.name.tag.yaml", rng(0, 5)},
		{"punctuation.separator.key-value.mapping.yaml", rng(5, 1)},
		{"string.quoted.double.yaml", rng(7, 13)},
		{"punctuation.definition.string.begin.yaml", rng(7, 1)},
		{"punctuation.definition.string.end.yaml", rng(19, 1)},
	}
	assert.Equal(t, want, got, diff.DiffExportedOnly(want, got))

	require.Equal(t, 3, doc.Levels())
	assert.Equal(t, "string.quoted.double.yaml", doc.TopmostAt(10).Name)
	assert.Equal(t, "punctuation.definition.string.end.yaml", doc.TopmostAt(19).Name)
	assert.Equal(t, "source.yaml", doc.TopmostAt(20).Name)
	assert.NotNil(t, doc.TopmostAt(10).Rule)
	assert.Nil(t, doc.TopmostAt(0).Rule)
	requireLevelInvariants(t, doc)
}

func TestParseIdempotent(t *testing.T) {
	p := loadParser(t, "yaml.tmLanguage.json")
	text := "a: \"x\\\"y\"\nb: \"unterminated\n# comment\nc: plain\n"

	first, firstDoc := collect(t, p, text)
	second, secondDoc := collect(t, p, text)
	assert.Equal(t, first, second)
	assert.True(t, firstDoc.Equal(secondDoc))
	requireLevelInvariants(t, firstDoc)
}

func TestParseUnterminatedBlock(t *testing.T) {
	p := loadParser(t, "swift.tmLanguage.yaml")
	got, doc := collect(t, p, "// test.swift\n/**")

	assert.Equal(t, []emitted{
		{"source.swift", rng(0, 17)},
		{"comment.line.double-slash.swift", rng(0, 14)},
		{"comment.block.documentation.swift", rng(14, 3)},
	}, got)
	assert.Equal(t, []scoped.Span{
		{Name: "comment.line.double-slash.swift", Range: rng(0, 14)},
		{Name: "comment.block.documentation.swift", Range: rng(14, 3), Rule: doc.Level(1)[1].Rule, Open: true},
	}, doc.Level(1))
}

func TestParseNestedBlocks(t *testing.T) {
	p := loadParser(t, "swift.tmLanguage.yaml")
	got, doc := collect(t, p, "/* a /* b */ c */ if")

	assert.Equal(t, []emitted{
		{"source.swift", rng(0, 20)},
		{"comment.block.swift", rng(0, 17)},
		{"comment.block.nested.swift", rng(5, 7)},
		{"keyword.control.swift", rng(18, 2)},
	}, got)
	assert.Equal(t, 3, doc.Levels())
	requireLevelInvariants(t, doc)
}

func TestParseMatchPriority(t *testing.T) {
	p := loadParser(t, "priority.tmLanguage.json")

	tests := []struct {
		name string
		text string
		want []emitted
	}{
		{
			name: "end wins ties by default",
			text: "[a]]",
			want: []emitted{
				{"source.priority", rng(0, 4)},
				{"meta.block.end-first", rng(0, 3)},
			},
		},
		{
			name: "children win ties when the end applies last",
			text: "<a>>",
			want: []emitted{
				{"source.priority", rng(0, 4)},
				{"meta.block.children-first", rng(0, 4)},
				{"inner.double", rng(2, 2)},
			},
		},
		{
			name: "earliest start, then declaration order",
			text: " ab",
			want: []emitted{
				{"source.priority", rng(0, 3)},
				{"first", rng(1, 1)},
			},
		},
		{
			name: "a match at the search start wins outright",
			text: "yz",
			want: []emitted{
				{"source.priority", rng(0, 2)},
				{"now", rng(0, 1)},
				{"later", rng(1, 1)},
			},
		},
		{
			name: "empty matches are skipped and still make progress",
			text: "xax",
			want: []emitted{
				{"source.priority", rng(0, 3)},
				{"first", rng(1, 1)},
			},
		},
		{
			name: "empty text reports nothing",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, doc := collect(t, p, tt.text)
			assert.Equal(t, tt.want, got)
			requireLevelInvariants(t, doc)
		})
	}
}

func TestParseCancelled(t *testing.T) {
	p := loadParser(t, "yaml.tmLanguage.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	doc, err := p.Parse(ctx, "title: \"Hello World\"\n", func(string, position.Range) { called = true })
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, doc)
	assert.False(t, called)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		grammar   string
		text      string
		insert    string
		at        int
		processed position.Range
	}{
		{
			name:      "edit inside a string",
			grammar:   "yaml.tmLanguage.json",
			text:      "a: \"x\"\nb: \"y\"\n",
			insert:    "zz",
			at:        4,
			processed: rng(0, 8),
		},
		{
			name:      "closing a block early",
			grammar:   "swift.tmLanguage.yaml",
			text:      "/*\nabc\n*/\nx",
			insert:    "*/",
			at:        3,
			processed: rng(3, 9),
		},
		{
			name:      "opening a string swallows the next line",
			grammar:   "yaml.tmLanguage.json",
			text:      "a: x\nb: \"y\"\n",
			insert:    "\"",
			at:        3,
			processed: rng(0, 13),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := loadParser(t, tt.grammar)
			ctx := context.Background()

			_, doc := collect(t, p, tt.text)
			require.NoError(t, doc.InsertText(tt.insert, tt.at))

			var got []emitted
			processed, err := p.ParseRange(ctx, doc, rng(tt.at, len(tt.insert)), func(scope string, r position.Range) {
				got = append(got, emitted{scope, r})
			})
			require.NoError(t, err)
			assert.Equal(t, tt.processed, processed)
			require.NotEmpty(t, got)
			assert.Equal(t, emitted{p.Grammar().ScopeName, processed}, got[0])

			_, fresh := collect(t, p, doc.String())
			assert.True(t, fresh.Equal(doc), diff.Scopes(fresh, doc))
			requireLevelInvariants(t, doc)
		})
	}
}

func TestParseRangeCancelled(t *testing.T) {
	p := loadParser(t, "yaml.tmLanguage.json")
	_, doc := collect(t, p, "a: \"x\"\n")
	before := doc.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ParseRange(ctx, doc, rng(0, 3), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, before.Equal(doc))
}

func TestParseRangeOutOfBounds(t *testing.T) {
	p := loadParser(t, "yaml.tmLanguage.json")
	_, doc := collect(t, p, "a: b\n")
	_, err := p.ParseRange(context.Background(), doc, rng(3, 10), nil)
	require.Error(t, err)
}

func TestParseZeroWidthRecursiveBegin(t *testing.T) {
	p := loadParser(t, "groups.tmLanguage.json")

	tests := []struct {
		name string
		text string
		want []emitted
	}{
		{
			name: "single group",
			text: "(x)",
			want: []emitted{
				{"source.groups", rng(0, 3)},
				{"meta.group.groups", rng(0, 3)},
				{"punctuation.section.group.begin.groups", rng(0, 1)},
				{"punctuation.section.group.end.groups", rng(2, 1)},
			},
		},
		{
			name: "nested groups",
			text: "((x))",
			want: []emitted{
				{"source.groups", rng(0, 5)},
				{"meta.group.groups", rng(0, 5)},
				{"punctuation.section.group.begin.groups", rng(0, 1)},
				{"meta.group.groups", rng(1, 3)},
				{"punctuation.section.group.begin.groups", rng(1, 1)},
				{"punctuation.section.group.end.groups", rng(3, 1)},
				{"punctuation.section.group.end.groups", rng(4, 1)},
			},
		},
		{
			name: "unterminated group",
			text: "(x",
			want: []emitted{
				{"source.groups", rng(0, 2)},
				{"meta.group.groups", rng(0, 2)},
				{"punctuation.section.group.begin.groups", rng(0, 1)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, doc := collect(t, p, tt.text)
			assert.Equal(t, tt.want, got, diff.DiffExportedOnly(tt.want, got))
			requireLevelInvariants(t, doc)
		})
	}

	t.Run("through $self", func(t *testing.T) {
		p := loadParser(t, "groups-self.tmLanguage.json")
		got, doc := collect(t, p, "(x)")
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, emitted{"meta.group.groups", rng(0, 3)}, got[1])
		assert.Contains(t, got, emitted{"punctuation.section.group.begin.groups", rng(0, 1)})
		requireLevelInvariants(t, doc)
	})
}

// reparseMatches applies e to prev, rescans the planned range and requires
// the result to equal a full parse of newText.
func reparseMatches(t *testing.T, p *scanner.Parser, prev *scoped.Text, e reparse.Edit, newText string) *scoped.Text {
	t.Helper()
	doc, r, ok := reparse.Prepare(prev, e, newText)
	require.True(t, ok, "%s on %q", e, prev.String())
	_, err := p.ParseRange(context.Background(), doc, r, nil)
	require.NoError(t, err)

	_, fresh := collect(t, p, newText)
	require.True(t, fresh.Equal(doc), "%s on %q:%s", e, prev.String(), diff.Scopes(fresh, doc))
	requireLevelInvariants(t, doc)
	return doc
}

func TestParseRangeMatchesFullParse(t *testing.T) {
	tests := []struct {
		name    string
		grammar string
		text    string
		edit    reparse.Edit
		newText string
	}{
		{
			name:    "resumed string keeps its level under the begin punctuation",
			grammar: "yaml.tmLanguage.json",
			text:    "\"/\n# \n",
			edit:    reparse.Delete(rng(4, 1)),
			newText: "\"/\n#\n",
		},
		{
			name:    "text appended after an unterminated block",
			grammar: "swift.tmLanguage.yaml",
			text:    " \"#/*\n",
			edit:    reparse.Insert(6, "\""),
			newText: " \"#/*\n\"",
		},
		{
			name:    "deleting the end of a block reopens it",
			grammar: "swift.tmLanguage.yaml",
			text:    "/* a\n*/\nx",
			edit:    reparse.Delete(rng(5, 2)),
			newText: "/* a\n\nx",
		},
		{
			name:    "closing an unterminated block at the end of the text",
			grammar: "swift.tmLanguage.yaml",
			text:    "/*\n*",
			edit:    reparse.Insert(4, "/"),
			newText: "/*\n*/",
		},
		{
			name:    "closing the inner of two unterminated blocks",
			grammar: "swift.tmLanguage.yaml",
			text:    "/* /*\n*",
			edit:    reparse.Insert(7, "/"),
			newText: "/* /*\n*/",
		},
		{
			name:    "closing a zero-width group on its first line",
			grammar: "groups.tmLanguage.json",
			text:    "(a\n(b)\n",
			edit:    reparse.Insert(2, ")"),
			newText: "(a)\n(b)\n",
		},
		{
			name:    "closing a nested zero-width group",
			grammar: "groups.tmLanguage.json",
			text:    "(a\n(b\n",
			edit:    reparse.Insert(5, ")"),
			newText: "(a\n(b)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := loadParser(t, tt.grammar)
			_, prev := collect(t, p, tt.text)
			reparseMatches(t, p, prev, tt.edit, tt.newText)
		})
	}
}

func TestParseRangeRandomEdits(t *testing.T) {
	pieces := []string{"\"", "/", "*", "#", "\n", " ", "x", ":", "\\", "(", ")", "/*", "*/", "if "}

	tests := []struct {
		grammar string
		text    string
	}{
		{"yaml.tmLanguage.json", "a: \"x\"\nb: \"y\\\"z\" # c\nd: e\n"},
		{"swift.tmLanguage.yaml", "/* a /* b */ c */\n// d\nif x /** e */ y\n"},
		{"groups.tmLanguage.json", "(a (b)) (c\n(d)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.grammar, func(t *testing.T) {
			p := loadParser(t, tt.grammar)
			for seed := int64(1); seed <= 64; seed++ {
				rnd := rand.New(rand.NewSource(seed))
				_, doc := collect(t, p, tt.text)
				for step := 0; step < 24; step++ {
					text := []rune(doc.String())
					var (
						e       reparse.Edit
						newText string
					)
					if len(text) == 0 || rnd.Intn(2) == 0 {
						at := rnd.Intn(len(text) + 1)
						piece := pieces[rnd.Intn(len(pieces))]
						e = reparse.Insert(at, piece)
						newText = string(text[:at]) + piece + string(text[at:])
					} else {
						start := rnd.Intn(len(text))
						length := 1 + rnd.Intn(min(3, len(text)-start))
						e = reparse.Delete(rng(start, length))
						newText = string(text[:start]) + string(text[start+length:])
					}
					doc = reparseMatches(t, p, doc, e, newText)
				}
			}
		})
	}
}
