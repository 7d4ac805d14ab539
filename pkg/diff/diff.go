// Package diff renders human readable differences for test failures.
package diff

import (
	"fmt"
	"strings"

	"github.com/k0kubun/pp/v3"
	"github.com/kylelemons/godebug/diff"

	"github.com/walteh/tmscan/pkg/scoped"
)

// DiffExportedOnly pretty prints both values, ignoring unexported fields,
// and returns a line diff. It returns "" when the printed forms agree.
func DiffExportedOnly[T any](want T, got T) string {
	printer := pp.New()
	printer.SetExportedOnly(true)
	printer.SetColoringEnabled(false)
	return render(diff.Diff(printer.Sprint(got), printer.Sprint(want)))
}

// Scopes compares the span levels of two scoped texts. Rule pointers are
// ignored; names, ranges and open blocks are compared.
func Scopes(want, got *scoped.Text) string {
	return render(diff.Diff(Listing(got), Listing(want)))
}

// Listing prints one line per stored span, grouped by level.
func Listing(t *scoped.Text) string {
	if t == nil {
		return "<nil>\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "base %s %s\n", t.Base().Range, t.Base().Name)
	for k := 1; k < t.Levels(); k++ {
		fmt.Fprintf(&b, "level %d\n", k)
		for _, s := range t.Level(k) {
			if s.Open {
				fmt.Fprintf(&b, "  %s %s open\n", s.Range, s.Name)
				continue
			}
			fmt.Fprintf(&b, "  %s %s\n", s.Range, s.Name)
		}
	}
	return b.String()
}

func render(abc string) string {
	if abc == "" {
		return ""
	}
	str := "\n\n"
	str += "to convert ACTUAL ⏩️ EXPECTED:\n\n"
	str += "add:    ➕\n"
	str += "remove: ➖\n"
	str += "\n"
	str += strings.ReplaceAll(strings.ReplaceAll(abc, "\n-", "\n➖"), "\n+", "\n➕")

	return str
}
