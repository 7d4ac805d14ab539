package grammar_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tmscan/pkg/diagnostic"
	"github.com/walteh/tmscan/pkg/grammar"
)

const hostGrammar = `{
	"scopeName": "text.html.host",
	"fileTypes": ["html"],
	"patterns": [
		{"begin": "<script>", "end": "</script>", "name": "meta.embedded.js", "patterns": [{"include": "source.js"}]}
	]
}`

const jsGrammar = `
scopeName: source.js
fileTypes: [js]
patterns:
  - include: '#keyword'
  - include: $base
repository:
  keyword:
    match: \b(var|let)\b
    name: keyword.js
`

const tmplGrammar = `{
	"scopeName": "text.html.tmpl",
	"fileTypes": ["tmpl.html"],
	"patterns": [{"match": "\\{\\{.*?\\}\\}", "name": "meta.tmpl"}]
}`

func memStore(t *testing.T) (*grammar.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/grammars/html/host.tmLanguage.json", []byte(hostGrammar), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/grammars/js/js.tmLanguage.yaml", []byte(jsGrammar), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/grammars/tmpl.tmLanguage.json", []byte(tmplGrammar), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/grammars/README.md", []byte("not a grammar"), 0o644))

	store := grammar.NewStore(ctx, grammar.WithFs(fs))
	require.NoError(t, store.LoadDir(ctx, "/grammars"))
	return store, ctx
}

func TestStoreLoadDir(t *testing.T) {
	store, _ := memStore(t)

	assert.Equal(t, []string{"source.js", "text.html.host", "text.html.tmpl"}, store.Scopes())

	src, ok := store.Source("source.js")
	require.True(t, ok)
	assert.Equal(t, "/grammars/js/js.tmLanguage.yaml", src)

	def, ok := store.Definition("text.html.host")
	require.True(t, ok)
	assert.Equal(t, []string{"html"}, def.FileTypes)
}

func TestStoreScopeForPath(t *testing.T) {
	store, _ := memStore(t)

	tests := []struct {
		path  string
		scope string
		ok    bool
	}{
		{"/src/index.html", "text.html.host", true},
		{"/src/page.tmpl.html", "text.html.tmpl", true},
		{"app.js", "source.js", true},
		{"js", "source.js", true},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			scope, ok := store.ScopeForPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.scope, scope)
		})
	}
}

func TestStoreGetGrammar(t *testing.T) {
	store, ctx := memStore(t)

	g, diags, err := store.GetGrammar(ctx, "text.html.host")
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.True(t, g.Frozen())
	assert.Equal(t, "text.html.host", g.ScopeName)

	again, _, err := store.GetGrammar(ctx, "text.html.host")
	require.NoError(t, err)
	assert.Same(t, g, again, "resolved grammars are cached")

	// adding a definition drops the cache
	require.NoError(t, store.LoadCustomGrammar(ctx, "extra.tmLanguage.json", []byte(`{"scopeName": "source.extra", "patterns": []}`)))
	fresh, _, err := store.GetGrammar(ctx, "text.html.host")
	require.NoError(t, err)
	assert.NotSame(t, g, fresh)

	_, _, err = store.GetGrammar(ctx, "source.missing")
	require.Error(t, err)
}

func TestStoreMissingDependency(t *testing.T) {
	store, ctx := memStore(t)
	require.NoError(t, store.LoadCustomGrammar(ctx, "lonely.tmLanguage.json", []byte(`{
		"scopeName": "source.lonely",
		"patterns": [{"include": "source.nowhere"}, {"match": "x", "name": "x.lonely"}]
	}`)))

	g, diags, err := store.GetGrammar(ctx, "source.lonely")
	require.NoError(t, err)
	require.Len(t, diags.OfKind(diagnostic.UnresolvedReference), 1)
	assert.Len(t, g.Root.Children, 1)
}

func TestStoreLoadErrors(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/g/ok.tmLanguage.json", []byte(`{"scopeName": "source.ok", "patterns": []}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/g/broken.tmLanguage.json", []byte(`{"scopeName": `), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/g/noscope.tmLanguage.json", []byte(`{"patterns": []}`), 0o644))

	store := grammar.NewStore(ctx, grammar.WithFs(fs))
	err := store.LoadDir(ctx, "/g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.tmLanguage.json")
	assert.Contains(t, err.Error(), "noscope.tmLanguage.json")
	assert.Equal(t, []string{"source.ok"}, store.Scopes())

	require.Error(t, store.LoadCustomGrammar(ctx, "grammar.txt", []byte(`{}`)))
}
