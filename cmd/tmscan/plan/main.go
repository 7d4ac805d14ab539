package plan

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/config"
	"github.com/walteh/tmscan/pkg/document"
	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/reparse"
	"github.com/walteh/tmscan/pkg/scanner"
)

type Handler struct {
	fs     afero.Fs
	scope  string
	insert int
	text   string
	delete int
	length int
	pretty bool
}

func NewPlanCommand() *cobra.Command {
	me := &Handler{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "plan FILE",
		Short: "apply one edit to a file and show what gets rescanned",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().StringVar(&me.scope, "scope", "", "grammar scope to use instead of matching the file name")
	cmd.Flags().IntVar(&me.insert, "insert", -1, "offset, in characters, to insert --text at")
	cmd.Flags().StringVar(&me.text, "text", "", "text to insert")
	cmd.Flags().IntVar(&me.delete, "delete", -1, "offset, in characters, to delete --length characters from")
	cmd.Flags().IntVar(&me.length, "length", 0, "number of characters to delete")
	cmd.Flags().BoolVar(&me.pretty, "pretty", false, "draw the scopes of the edited text")

	cmd.MarkFlagsMutuallyExclusive("insert", "delete")
	cmd.MarkFlagsOneRequired("insert", "delete")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout(), args[0])
	}

	return cmd
}

// edit builds the edit and the text it produces from old.
func (me *Handler) edit(old []rune) (reparse.Edit, string, error) {
	switch {
	case me.insert >= 0:
		if me.insert > len(old) {
			return reparse.Edit{}, "", errors.Errorf("insert offset %d beyond text of length %d", me.insert, len(old))
		}
		if me.text == "" {
			return reparse.Edit{}, "", errors.New("--insert needs a non-empty --text")
		}
		newText := string(old[:me.insert]) + me.text + string(old[me.insert:])
		return reparse.Insert(me.insert, me.text), newText, nil
	case me.delete >= 0:
		r := position.Range{Start: me.delete, Length: me.length}
		if me.length <= 0 || r.End() > len(old) {
			return reparse.Edit{}, "", errors.Errorf("delete %s outside text of length %d", r, len(old))
		}
		newText := string(old[:r.Start]) + string(old[r.End():])
		return reparse.Delete(r), newText, nil
	}
	return reparse.Edit{}, "", errors.New("one of --insert or --delete is required")
}

func (me *Handler) Run(ctx context.Context, out io.Writer, path string) error {
	cfg := config.FromContext(ctx)

	data, err := afero.ReadFile(me.fs, path)
	if err != nil {
		return errors.Errorf("reading %s: %w", path, err)
	}
	old := string(data)

	e, newText, err := me.edit([]rune(old))
	if err != nil {
		return err
	}

	store, err := cfg.Store(ctx, me.fs)
	if err != nil {
		return err
	}
	scope := me.scope
	if scope == "" {
		if scope, err = cfg.ScopeFor(store, path); err != nil {
			return err
		}
	}
	g, _, err := store.GetGrammar(ctx, scope)
	if err != nil {
		return errors.Errorf("loading grammar: %w", err)
	}

	doc, err := document.Open(ctx, scanner.New(g), old, nil)
	if err != nil {
		return err
	}

	runes := []rune(newText)
	var lines []string
	processed, err := doc.Update(ctx, e, newText, func(scope string, r position.Range) {
		lines = append(lines, fmt.Sprintf("%d\t%d\t%s\t%q", r.Start, r.End(), scope, string(runes[r.Start:r.End()])))
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "edit:      %s\n", e)
	fmt.Fprintf(out, "rescanned: %s\n", processed)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	if me.pretty {
		fmt.Fprint(out, doc.Scopes().Pretty())
	}
	return nil
}
