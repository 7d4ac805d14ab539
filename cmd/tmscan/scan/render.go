package scan

import (
	"strings"

	"github.com/fatih/color"

	"github.com/walteh/tmscan/pkg/scoped"
	"github.com/walteh/tmscan/pkg/theme"
)

// Render colors doc with the theme. Each rune takes the merged settings of
// every scope enclosing it, outermost first.
func Render(doc *scoped.Text, th *theme.Theme) string {
	runes := doc.Runes()
	chains := make([][]string, len(runes))
	for i := range chains {
		chains[i] = []string{doc.Base().Name}
	}
	for k := 1; k < doc.Levels(); k++ {
		for _, s := range doc.Level(k) {
			for i := s.Range.Start; i < s.Range.End() && i < len(runes); i++ {
				chains[i] = append(chains[i], s.Name)
			}
		}
	}

	styles := map[string]*color.Color{}
	styleFor := func(chain []string) (string, *color.Color) {
		key := strings.Join(chain, " ")
		if c, ok := styles[key]; ok {
			return key, c
		}
		merged := theme.Attributes{}
		for k, v := range th.Global() {
			merged[k] = v
		}
		for _, name := range chain {
			for k, v := range th.Attributes(name) {
				merged[k] = v
			}
		}
		c := style(merged)
		styles[key] = c
		return key, c
	}

	var (
		b        strings.Builder
		run      []rune
		runKey   string
		runStyle *color.Color
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		if runStyle == nil {
			b.WriteString(string(run))
		} else {
			b.WriteString(runStyle.Sprint(string(run)))
		}
		run = run[:0]
	}
	for i, r := range runes {
		if r == '\n' {
			flush()
			b.WriteRune(r)
			continue
		}
		key, c := styleFor(chains[i])
		if key != runKey {
			flush()
			runKey, runStyle = key, c
		}
		run = append(run, r)
	}
	flush()
	return b.String()
}

// style returns nil when attrs carry nothing printable.
func style(attrs theme.Attributes) *color.Color {
	c := color.New()
	styled := false
	if r, g, bl, ok := attrs.RGB(theme.Foreground); ok {
		c.AddRGB(int(r), int(g), int(bl))
		styled = true
	}
	for _, fs := range strings.Fields(attrs[theme.FontStyle]) {
		switch fs {
		case "bold":
			c.Add(color.Bold)
			styled = true
		case "italic":
			c.Add(color.Italic)
			styled = true
		case "underline":
			c.Add(color.Underline)
			styled = true
		}
	}
	if !styled {
		return nil
	}
	c.EnableColor()
	return c
}
