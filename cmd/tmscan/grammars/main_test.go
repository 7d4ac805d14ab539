package grammars

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tmscan/pkg/config"
)

func TestRun(t *testing.T) {
	color.NoColor = true

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/g/good.tmLanguage.json", []byte(`{
		"scopeName": "source.good",
		"fileTypes": ["good", "gd"],
		"patterns": [{"include": "#missing"}, {"match": "x", "name": "x.good"}]
	}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/g/bad.tmLanguage.yaml", []byte(`
scopeName: source.bad
patterns:
  - match: "("
    name: broken.bad
`), 0o644))
	ctx := config.WithContext(context.Background(), &config.Config{GrammarDirs: []string{"/g"}})

	var out bytes.Buffer
	me := &Handler{fs: fs}
	require.NoError(t, me.Run(ctx, &out))
	assert.Equal(t, "source.bad\t\t/g/bad.tmLanguage.yaml\nsource.good\tgood,gd\t/g/good.tmLanguage.json\n", out.String())

	out.Reset()
	me.check = true
	err := me.Run(ctx, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grammars with errors: source.bad")
	assert.Contains(t, out.String(), "[invalid-regex]")
	assert.Contains(t, out.String(), "[unresolved-reference]")
}
