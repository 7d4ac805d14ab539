package grammar

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/bundle"
	"github.com/walteh/tmscan/pkg/diagnostic"
)

// GrammarGlob matches the grammar files a directory or bundle may hold.
const GrammarGlob = "**/*.{tmLanguage,tmLanguage.json,tmLanguage.yaml,tmLanguage.yml,plist}"

// Store manages a collection of grammar definitions and hands out resolved
// grammars. Each resolved grammar is built from fresh copies of every grammar
// it includes, with the requested grammar standing in for $base.
type Store struct {
	fs      afero.Fs
	timeout time.Duration

	mu          sync.Mutex
	definitions map[string]*Definition
	sources     map[string]string
	resolved    map[string]*resolvedGrammar
}

type resolvedGrammar struct {
	grammar *Grammar
	diags   diagnostic.Diagnostics
}

type StoreOption func(*Store)

// WithFs sets the filesystem directories are read from.
func WithFs(fs afero.Fs) StoreOption {
	return func(s *Store) { s.fs = fs }
}

// WithMatchTimeout bounds each regex search of the grammars the store compiles.
func WithMatchTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// NewStore creates an empty grammar store.
func NewStore(ctx context.Context, opts ...StoreOption) *Store {
	zerolog.Ctx(ctx).Debug().Msg("creating new grammar store")

	s := &Store{
		fs:          afero.NewOsFs(),
		definitions: map[string]*Definition{},
		sources:     map[string]string{},
		resolved:    map[string]*resolvedGrammar{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadCustomGrammar decodes one grammar file and adds it to the store under
// its scope name. The format is taken from name's extension.
func (s *Store) LoadCustomGrammar(ctx context.Context, name string, data []byte) error {
	zerolog.Ctx(ctx).Debug().Str("name", name).Msg("loading custom grammar")

	format, ok := FormatForPath(name)
	if !ok {
		return errors.Errorf("unknown grammar format for %s", name)
	}
	def, err := Decode(data, format)
	if err != nil {
		return errors.Errorf("decoding %s: %w", name, err)
	}
	return s.AddDefinition(ctx, name, def)
}

// AddDefinition registers an already decoded definition. It replaces any
// definition with the same scope name.
func (s *Store) AddDefinition(ctx context.Context, source string, def *Definition) error {
	if def.ScopeName == "" {
		return errors.Errorf("grammar %s has no scopeName", source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sources[def.ScopeName]; ok && prev != source {
		zerolog.Ctx(ctx).Warn().Str("scope", def.ScopeName).Str("previous", prev).Str("source", source).Msg("replacing grammar")
	}
	s.definitions[def.ScopeName] = def
	s.sources[def.ScopeName] = source
	// any resolved grammar may include this one
	s.resolved = map[string]*resolvedGrammar{}
	return nil
}

// LoadDir loads every grammar file below dir. Files that fail to load are
// collected into the returned error; the rest are still added.
func (s *Store) LoadDir(ctx context.Context, dir string) error {
	var result *multierror.Error
	err := afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(GrammarGlob, filepath.ToSlash(rel)); !ok {
			return nil
		}
		data, err := afero.ReadFile(s.fs, p)
		if err != nil {
			result = multierror.Append(result, errors.Errorf("reading %s: %w", p, err))
			return nil
		}
		if err := s.LoadCustomGrammar(ctx, p, data); err != nil {
			result = multierror.Append(result, err)
		}
		return nil
	})
	if err != nil {
		return errors.Errorf("walking %s: %w", dir, err)
	}
	return result.ErrorOrNil()
}

// LoadBundle loads the grammar files found in a tar.gz archive.
func (s *Store) LoadBundle(ctx context.Context, data []byte) error {
	b, err := bundle.Load(data, bundle.Options{Include: []string{GrammarGlob}})
	if err != nil {
		return errors.Errorf("loading bundle: %w", err)
	}
	var result *multierror.Error
	for _, name := range b.Names() {
		if err := s.LoadCustomGrammar(ctx, name, b.Files[name]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	zerolog.Ctx(ctx).Debug().Int("files", len(b.Files)).Msg("loaded grammar bundle")
	return result.ErrorOrNil()
}

// Scopes lists the scope names of every stored definition.
func (s *Store) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.definitions))
	for scope := range s.definitions {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Definition returns the stored definition for a scope.
func (s *Store) Definition(scope string) (*Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.definitions[scope]
	return def, ok
}

// Source returns where the definition for scope was loaded from.
func (s *Store) Source(scope string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[scope]
	return src, ok
}

// ScopeForPath picks the grammar whose file types match the file name.
func (s *Store) ScopeForPath(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := path.Base(filepath.ToSlash(name))
	best, bestLen := "", 0
	for scope, def := range s.definitions {
		for _, ft := range def.FileTypes {
			if ft == "" {
				continue
			}
			if base == ft || strings.HasSuffix(base, "."+ft) {
				if len(ft) > bestLen || (len(ft) == bestLen && scope < best) {
					best, bestLen = scope, len(ft)
				}
			}
		}
	}
	return best, best != ""
}

// GetGrammar returns the fully resolved grammar for a scope. Every grammar it
// includes, directly or not, is compiled fresh and linked with the requested
// grammar as $base. Results are cached until the store changes.
func (s *Store) GetGrammar(ctx context.Context, scope string) (*Grammar, diagnostic.Diagnostics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.resolved[scope]; ok {
		return r.grammar, r.diags, nil
	}
	if _, ok := s.definitions[scope]; !ok {
		return nil, nil, errors.Errorf("grammar not found: %s", scope)
	}

	var (
		diags    diagnostic.Diagnostics
		compiled []*Grammar
		seen     = map[string]bool{}
		queue    = []string{scope}
	)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true

		def, ok := s.definitions[next]
		if !ok {
			// reported as unresolved references while linking
			continue
		}
		g, d, err := Compile(ctx, def, WithRegexTimeout(s.timeout))
		if err != nil {
			return nil, nil, errors.Errorf("compiling %s: %w", next, err)
		}
		diags = append(diags, d...)
		compiled = append(compiled, g)
		queue = append(queue, g.ExternalScopes()...)
	}

	diags = append(diags, Link(ctx, compiled, scope)...)

	root := compiled[0]
	s.resolved[scope] = &resolvedGrammar{grammar: root, diags: diags}

	zerolog.Ctx(ctx).Debug().
		Str("scope", scope).
		Strs("grammars", NewSet(compiled...).Scopes()).
		Int("diagnostics", len(diags)).
		Msg("resolved grammar")

	return root, diags, nil
}
