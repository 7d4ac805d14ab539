// Package semtok turns scoped text into editor semantic tokens.
//
// Every code unit takes the classification of the innermost span around it
// that Classify understands. Runs of equal classification become tokens,
// split at line breaks. Encode produces the relative five integer form used
// by the language server protocol, with columns counted in UTF-16 units.
package semtok

import (
	"context"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/scoped"
)

type class struct {
	typ      TokenType
	modifier TokenModifier
	scope    string
}

// GetTokensForText classifies the whole text.
func GetTokensForText(ctx context.Context, doc *scoped.Text) []Token {
	return GetTokensForRange(ctx, doc, doc.Base().Range)
}

// GetTokensForRange classifies the lines touched by r. Tokens are clipped to
// those lines.
func GetTokensForRange(ctx context.Context, doc *scoped.Text, r position.Range) []Token {
	text := doc.Runes()
	lines := position.LineRange(text, r)

	classes := make([]class, lines.Length)
	for k := 1; k < doc.Levels(); k++ {
		for _, s := range doc.Level(k) {
			if !s.Range.Intersects(lines) || s.Range.IsEmpty() {
				continue
			}
			typ, mod, ok := Classify(s.Name)
			if !ok {
				continue
			}
			clip := s.Range.Intersection(lines)
			for i := clip.Start; i < clip.End(); i++ {
				classes[i-lines.Start] = class{typ, mod, s.Name}
			}
		}
	}

	var tokens []Token
	start := -1
	for i := lines.Start; i <= lines.End(); i++ {
		var c class
		if i < lines.End() && text[i] != '\n' {
			c = classes[i-lines.Start]
		}
		if start >= 0 && c != classes[start-lines.Start] {
			prev := classes[start-lines.Start]
			tokens = append(tokens, Token{Type: prev.typ, Modifier: prev.modifier, Range: position.NewRange(start, i), Scope: prev.scope})
			start = -1
		}
		if start < 0 && c.typ != 0 {
			start = i
		}
	}

	zerolog.Ctx(ctx).Trace().Stringer("lines", lines).Int("tokens", len(tokens)).Msg("classified semantic tokens")
	return tokens
}

// Encode packs tokens, which must be sorted and non-overlapping, into
// (deltaLine, deltaStart, length, type, modifiers) groups.
func Encode(text []rune, tokens []Token) []uint32 {
	out := make([]uint32, 0, len(tokens)*5)

	line, col := 0, 0 // utf16 position of index
	index := 0
	prevLine, prevCol := 0, 0
	advance := func(to int) {
		for ; index < to && index < len(text); index++ {
			if text[index] == '\n' {
				line++
				col = 0
				continue
			}
			col += utf16.RuneLen(text[index])
		}
	}

	for _, t := range tokens {
		advance(t.Range.Start)
		startLine, startCol := line, col
		advance(t.Range.End())
		length := col - startCol

		deltaLine := startLine - prevLine
		deltaCol := startCol
		if deltaLine == 0 {
			deltaCol = startCol - prevCol
		}
		out = append(out, uint32(deltaLine), uint32(deltaCol), uint32(length), uint32(t.Type-1), uint32(t.Modifier))
		prevLine, prevCol = startLine, startCol
	}
	return out
}
