package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/config"
	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/scanner"
	"github.com/walteh/tmscan/pkg/semtok"
)

const (
	FormatList   = "list"
	FormatPretty = "pretty"
	FormatColor  = "color"
	FormatJSON   = "json"

	// FormatSemantic prints editor semantic tokens.
	FormatSemantic = "semantic"
)

type Handler struct {
	fs     afero.Fs
	scope  string
	format string
}

func NewScanCommand() *cobra.Command {
	me := &Handler{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "scan a file and print its scopes",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().StringVar(&me.scope, "scope", "", "grammar scope to use instead of matching the file name")
	cmd.Flags().StringVar(&me.format, "format", FormatList, "output format: list, pretty, color, json or semantic")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout(), args[0])
	}

	return cmd
}

type Token struct {
	Scope string `json:"scope"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (me *Handler) Run(ctx context.Context, out io.Writer, path string) error {
	switch me.format {
	case FormatList, FormatPretty, FormatColor, FormatJSON, FormatSemantic:
	default:
		return errors.Errorf("unknown format %q", me.format)
	}

	cfg := config.FromContext(ctx)

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

	g, diags, err := store.GetGrammar(ctx, scope)
	if err != nil {
		return errors.Errorf("loading grammar: %w", err)
	}
	for _, d := range diags {
		zerolog.Ctx(ctx).Warn().Str("diagnostic", d.String()).Msg("grammar problem")
	}

	data, err := afero.ReadFile(me.fs, path)
	if err != nil {
		return errors.Errorf("reading %s: %w", path, err)
	}
	text := string(data)
	runes := []rune(text)

	var tokens []Token
	doc, err := scanner.New(g).Parse(ctx, text, func(scope string, r position.Range) {
		tokens = append(tokens, Token{Scope: scope, Start: r.Start, End: r.End(), Text: string(runes[r.Start:r.End()])})
	})
	if err != nil {
		return err
	}

	switch me.format {
	case FormatPretty:
		_, err = io.WriteString(out, doc.Pretty())
	case FormatColor:
		th, terr := cfg.LoadTheme(me.fs)
		if terr != nil {
			return errors.Errorf("loading theme: %w", terr)
		}
		if th == nil {
			return errors.New("color output needs a theme in the config")
		}
		_, err = io.WriteString(out, Render(doc, th))
	case FormatSemantic:
		for _, t := range semtok.GetTokensForText(ctx, doc) {
			place := t.Range.Place(runes)
			if _, err = fmt.Fprintf(out, "%d:%d\t%d\t%s\t%s\t%s\n", place.Line, place.Character, t.Range.Length, t.Type, t.Modifier, t.Scope); err != nil {
				break
			}
		}
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(tokens)
	default:
		for _, t := range tokens {
			if _, err = fmt.Fprintf(out, "%d\t%d\t%s\t%q\n", t.Start, t.End, t.Scope, t.Text); err != nil {
				break
			}
		}
	}
	if err != nil {
		return errors.Errorf("writing output: %w", err)
	}
	return nil
}
