package grammars

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/config"
	"github.com/walteh/tmscan/pkg/diagnostic"
)

type Handler struct {
	fs    afero.Fs
	check bool
}

func NewGrammarsCommand() *cobra.Command {
	me := &Handler{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "grammars",
		Short: "list the configured grammars",
		Args:  cobra.NoArgs,
	}

	cmd.Flags().BoolVar(&me.check, "check", false, "resolve every grammar and report its diagnostics")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout())
	}

	return cmd
}

var severityColor = map[diagnostic.Severity]*color.Color{
	diagnostic.Error:   color.New(color.FgRed, color.Bold),
	diagnostic.Warning: color.New(color.FgYellow),
	diagnostic.Info:    color.New(color.Faint),
}

func (me *Handler) Run(ctx context.Context, out io.Writer) error {
	cfg := config.FromContext(ctx)

	store, err := cfg.Store(ctx, me.fs)
	if err != nil {
		return err
	}

	var failed []string
	for _, scope := range store.Scopes() {
		def, _ := store.Definition(scope)
		src, _ := store.Source(scope)
		fmt.Fprintf(out, "%s\t%s\t%s\n", scope, strings.Join(def.FileTypes, ","), src)

		if !me.check {
			continue
		}
		_, diags, err := store.GetGrammar(ctx, scope)
		if err != nil {
			return errors.Errorf("resolving %s: %w", scope, err)
		}
		for _, d := range diags {
			fmt.Fprintf(out, "  %s\n", severityColor[d.Severity].Sprint(d.String()))
		}
		if err := diags.Err(); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("scope", scope).Msg("grammar has errors")
			failed = append(failed, scope)
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("grammars with errors: %s", strings.Join(failed, ", "))
	}
	return nil
}
