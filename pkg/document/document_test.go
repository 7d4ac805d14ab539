package document_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/tmscan/pkg/diff"
	"github.com/walteh/tmscan/pkg/document"
	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/reparse"
	"github.com/walteh/tmscan/pkg/scanner"
)

func yamlParser(t *testing.T) *scanner.Parser {
	t.Helper()
	data, err := os.ReadFile("testdata/yaml.tmLanguage.json")
	require.NoError(t, err)
	def, err := grammar.DecodeJSON(data)
	require.NoError(t, err)
	g, _, err := grammar.Compile(context.Background(), def)
	require.NoError(t, err)
	grammar.Link(context.Background(), []*grammar.Grammar{g}, g.ScopeName)
	return scanner.New(g)
}

func TestDocumentUpdate(t *testing.T) {
	ctx := context.Background()
	p := yamlParser(t)

	doc, err := document.Open(ctx, p, "title: \"Hello\"\nname: x\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "string.quoted.double.yaml", doc.ScopeAt(9))

	// typing a quote opens a string that runs into the next line
	var scopes []string
	r, err := doc.Update(ctx, reparse.Insert(21, "\""), "title: \"Hello\"\nname: \"x\n", func(scope string, _ position.Range) {
		scopes = append(scopes, scope)
	})
	require.NoError(t, err)
	assert.Equal(t, position.Range{Start: 15, Length: 9}, r)
	assert.Contains(t, scopes, "string.quoted.double.yaml")
	assert.Equal(t, "string.quoted.double.yaml", doc.ScopeAt(22))
	assert.Equal(t, "title: \"Hello\"\nname: \"x\n", doc.Text())

	fresh, err := p.Parse(ctx, doc.Text(), nil)
	require.NoError(t, err)
	assert.True(t, fresh.Equal(doc.Scopes()), diff.Scopes(fresh, doc.Scopes()))
}

func TestDocumentUpdateMatchesFullParse(t *testing.T) {
	ctx := context.Background()
	p := yamlParser(t)

	doc, err := document.Open(ctx, p, "\"/\n# \n", nil)
	require.NoError(t, err)

	steps := []struct {
		name    string
		edit    reparse.Edit
		newText string
	}{
		{"shrink an unterminated string", reparse.Delete(position.Range{Start: 4, Length: 1}), "\"/\n#\n"},
		{"append after an unterminated string", reparse.Insert(5, "k: v\n"), "\"/\n#\nk: v\n"},
		{"close the string", reparse.Insert(1, "\""), "\"\"/\n#\nk: v\n"},
		{"remove the closing quote", reparse.Delete(position.Range{Start: 1, Length: 1}), "\"/\n#\nk: v\n"},
	}
	for _, step := range steps {
		_, err := doc.Update(ctx, step.edit, step.newText, nil)
		require.NoError(t, err, step.name)
		require.Equal(t, step.newText, doc.Text(), step.name)

		fresh, err := p.Parse(ctx, step.newText, nil)
		require.NoError(t, err)
		require.True(t, fresh.Equal(doc.Scopes()), "%s:%s", step.name, diff.Scopes(fresh, doc.Scopes()))
	}
}

func TestDocumentUpdateFallsBackToFullScan(t *testing.T) {
	ctx := context.Background()
	p := yamlParser(t)

	doc, err := document.Open(ctx, p, "a: b\n", nil)
	require.NoError(t, err)

	r, err := doc.Update(ctx, reparse.Insert(0, "x"), "c: \"d\"\n", nil)
	require.NoError(t, err)
	assert.Equal(t, position.Range{Start: 0, Length: 7}, r)
	assert.Equal(t, "string.quoted.double.yaml", doc.ScopeAt(4))
}

func TestDocumentUpdateCancelled(t *testing.T) {
	p := yamlParser(t)
	doc, err := document.Open(context.Background(), p, "a: \"b\"\n", nil)
	require.NoError(t, err)
	before := doc.Scopes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = doc.Update(ctx, reparse.Insert(4, "x"), "a: \"xb\"\n", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, before.Equal(doc.Scopes()))
	assert.Equal(t, "a: \"b\"\n", doc.Text())
}

func TestDocumentConcurrentReads(t *testing.T) {
	ctx := context.Background()
	p := yamlParser(t)
	doc, err := document.Open(ctx, p, "k: \"v\"\n", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = doc.ScopeAt(4)
			_ = doc.Text()
		}()
	}
	_, err = doc.Update(ctx, reparse.Insert(4, "w"), "k: \"wv\"\n", nil)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "k: \"wv\"\n", doc.Text())
}
