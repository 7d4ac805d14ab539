package scoped

import (
	"fmt"
	"strings"
)

// Pretty draws the text with one line per stored level, top level first,
// followed by a ruler. Multi-unit spans are drawn as [---], single units as
// |. Newlines print as ¬ and tabs as ».
//
//	Only this!
//	[--]
//	[--------]
//	0--------|10-------|
func (t *Text) Pretty() string {
	var sb strings.Builder

	printable := strings.NewReplacer("\n", "¬", "\t", "»").Replace(string(t.text))
	sb.WriteString(printable)
	sb.WriteByte('\n')

	for i := len(t.levels) - 1; i >= 0; i-- {
		line := []rune(strings.Repeat(" ", len(t.text)))
		for _, s := range t.levels[i] {
			r := s.Range
			switch {
			case r.Length == 0 || r.End() > len(line):
				continue
			case r.Length == 1:
				line[r.Start] = '|'
			default:
				line[r.Start] = '['
				for j := r.Start + 1; j < r.End()-1; j++ {
					line[j] = '-'
				}
				line[r.End()-1] = ']'
			}
		}
		sb.WriteString(string(line))
		sb.WriteByte('\n')
	}

	for i := 0; i <= len(t.text)/10; i++ {
		n := fmt.Sprintf("%d", i*10)
		sb.WriteString(n)
		sb.WriteString(strings.Repeat("-", max(9-len(n), 0)))
		sb.WriteByte('|')
	}
	sb.WriteByte('\n')
	return sb.String()
}
