package grammar

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/diagnostic"
)

// Grammar is a compiled rule tree plus its repository.
type Grammar struct {
	UUID      string
	Name      string
	ScopeName string
	FileTypes []string

	// Root is a container holding the grammar's top-level rules.
	Root       *Pattern
	Repository *Repository

	external []*Reference
	frozen   bool
}

type compileOptions struct {
	timeout time.Duration
}

type CompileOption func(*compileOptions)

// WithRegexTimeout bounds how long a single regex search may run.
func WithRegexTimeout(d time.Duration) CompileOption {
	return func(o *compileOptions) { o.timeout = d }
}

type builder struct {
	ctx     context.Context
	grammar *Grammar
	diags   diagnostic.Diagnostics
	refs    []*Reference
	opts    compileOptions
}

// Compile builds a grammar from its definition and resolves every reference
// that stays inside it. References to other grammars wait for ResolveExternal.
// Rules that cannot be built are dropped and reported; only a definition
// without a scope name is rejected outright.
func Compile(ctx context.Context, def *Definition, opts ...CompileOption) (*Grammar, diagnostic.Diagnostics, error) {
	if def == nil {
		return nil, nil, errors.New("nil grammar definition")
	}
	if def.ScopeName == "" {
		return nil, nil, errors.Errorf("grammar %q has no scopeName", def.Name)
	}

	b := &builder{
		ctx: ctx,
		grammar: &Grammar{
			UUID:      def.UUID,
			Name:      def.Name,
			ScopeName: def.ScopeName,
			FileTypes: def.FileTypes,
		},
	}
	for _, o := range opts {
		o(&b.opts)
	}

	if def.UUID != "" {
		if _, err := uuid.Parse(def.UUID); err != nil {
			b.report(diagnostic.InvalidMetadata, diagnostic.Warning, "uuid", "malformed uuid %q: %v", def.UUID, err)
		}
	}

	g := b.grammar
	g.Repository = b.repository(def.Repository, nil, "repository")
	g.Root = &Pattern{Kind: KindContainer, Scope: def.ScopeName}
	g.Root.Children = b.rules(def.Patterns, g.Repository, g.Root, "patterns")

	b.resolveInternal()

	zerolog.Ctx(ctx).Debug().
		Str("scope", g.ScopeName).
		Int("diagnostics", len(b.diags)).
		Int("external", len(g.external)).
		Msg("compiled grammar")

	return g, b.diags, nil
}

func (b *builder) report(kind diagnostic.Kind, sev diagnostic.Severity, path, format string, args ...any) {
	b.diags.Add(kind, sev, b.grammar.ScopeName, path, format, args...)
}

func (b *builder) repository(defs map[string]RuleDefinition, parent *Repository, path string) *Repository {
	repo := newRepository(parent)
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := b.rule(defs[name], repo, nil, path+"."+name); p != nil {
			repo.entries[name] = p
		}
	}
	return repo
}

func (b *builder) rules(defs []RuleDefinition, repo *Repository, parent *Pattern, path string) []*Pattern {
	out := make([]*Pattern, 0, len(defs))
	for i, def := range defs {
		if p := b.rule(def, repo, parent, fmt.Sprintf("%s[%d]", path, i)); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (b *builder) regex(source, path string) *Regex {
	re, err := CompileRegex(source, b.opts.timeout)
	if err != nil {
		b.report(diagnostic.InvalidRegex, diagnostic.Error, path, "%v", err)
		return nil
	}
	return re
}

func (b *builder) captures(defs map[string]CaptureDefinition, path string) CaptureMap {
	if len(defs) == 0 {
		return nil
	}
	out := CaptureMap{}
	for key, c := range defs {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 {
			b.report(diagnostic.InvalidCapture, diagnostic.Warning, path, "capture key %q is not a group number", key)
			continue
		}
		if c.Name == "" {
			continue
		}
		out[n] = c.Name
	}
	return out
}

// rule builds one node; nil means the rule was dropped.
func (b *builder) rule(def RuleDefinition, repo *Repository, parent *Pattern, path string) *Pattern {
	if def.Disabled {
		zerolog.Ctx(b.ctx).Trace().Str("path", path).Msg("skipping disabled rule")
		return nil
	}

	if def.Include != "" {
		ref := ParseReference(def.Include)
		p := &Pattern{Kind: KindReference, Ref: &ref}
		ref.node = p
		ref.parent = parent
		ref.repo = repo
		ref.path = path
		b.refs = append(b.refs, &ref)
		return p
	}

	if len(def.Repository) > 0 {
		repo = b.repository(def.Repository, repo, path+".repository")
	}

	p := &Pattern{Scope: def.Name}
	switch {
	case def.Match != "":
		p.Kind = KindMatch
		if p.Match = b.regex(def.Match, path+".match"); p.Match == nil {
			return nil
		}
		p.Captures = b.captures(def.Captures, path+".captures")

	case def.Begin != "":
		if def.End == "" {
			b.report(diagnostic.MalformedRule, diagnostic.Warning, path, "begin without end")
			return nil
		}
		p.Kind = KindBeginEnd
		p.Begin = b.regex(def.Begin, path+".begin")
		p.End = b.regex(def.End, path+".end")
		if p.Begin == nil || p.End == nil {
			return nil
		}
		shared := b.captures(def.Captures, path+".captures")
		p.BeginCaptures = b.captures(def.BeginCaptures, path+".beginCaptures")
		p.EndCaptures = b.captures(def.EndCaptures, path+".endCaptures")
		if p.BeginCaptures == nil {
			p.BeginCaptures = shared
		}
		if p.EndCaptures == nil {
			p.EndCaptures = shared
		}
		if def.ApplyEndPatternLast {
			p.EndPriority = EndAfterChildren
		}
		p.Children = b.rules(def.Patterns, repo, p, path+".patterns")

	case def.End != "":
		b.report(diagnostic.MalformedRule, diagnostic.Warning, path, "end without begin")
		return nil

	default:
		p.Kind = KindContainer
		p.Children = b.rules(def.Patterns, repo, p, path+".patterns")
		if len(p.Children) == 0 {
			b.report(diagnostic.MalformedRule, diagnostic.Warning, path, "rule has no match, begin/end or patterns")
			return nil
		}
	}
	return p
}

// resolveInternal links repository references, then splices $self
// references, and sets external references aside.
func (b *builder) resolveInternal() {
	g := b.grammar
	var selves []*Reference
	for _, ref := range b.refs {
		switch {
		case ref.Kind == RefRepository:
			g.resolveRepository(b.ctx, ref, &b.diags)
		case ref.Kind == RefSelf:
			selves = append(selves, ref)
		default:
			g.external = append(g.external, ref)
		}
	}
	if len(selves) == 0 {
		return
	}

	// every splice copies the top-level rules as they were before any
	// splicing; nested $self inside the copies link back to the root
	template := (&copier{grammar: g, self: g.Root, memo: map[*Pattern]*Pattern{}}).children(g.Root, g.Root)
	snapshot := &Pattern{Kind: KindContainer, Children: template}
	for _, ref := range selves {
		if ref.copied || ref.parent == nil {
			ref.link(g.Root)
			continue
		}
		c := &copier{grammar: g, self: g.Root, register: true, memo: map[*Pattern]*Pattern{}}
		g.spliceCopies(ref, c.children(snapshot, ref.parent), g.Root)
	}
}

func (g *Grammar) resolveRepository(ctx context.Context, ref *Reference, diags *diagnostic.Diagnostics) {
	repo := ref.repo
	if repo == nil {
		repo = g.Repository
	}
	target, ok := repo.Lookup(ref.Name)
	if !ok {
		g.fail(ctx, ref, diags, "no repository entry %q", ref.Name)
		return
	}
	ref.link(target)
}

func (r *Reference) link(target *Pattern) {
	r.state = refResolved
	r.target = target
}

// fail records an unresolvable reference and removes it from its parent so
// the matcher never sees it.
func (g *Grammar) fail(ctx context.Context, ref *Reference, diags *diagnostic.Diagnostics, format string, args ...any) {
	ref.state = refFailed
	if ref.parent != nil {
		ref.parent.removeChild(ref.node)
	}
	if ref.copied {
		// the original already reported it
		return
	}
	msg := fmt.Sprintf(format, args...)
	diags.Add(diagnostic.UnresolvedReference, diagnostic.Warning, g.ScopeName, ref.path, "include %q: %s", ref.Raw, msg)
	zerolog.Ctx(ctx).Debug().Str("scope", g.ScopeName).Str("include", ref.Raw).Msg("unresolved reference")
}

// ExternalScopes lists the scope names of other grammars this grammar still
// needs to resolve its references.
func (g *Grammar) ExternalScopes() []string {
	seen := map[string]bool{}
	var out []string
	for _, ref := range g.external {
		if ref.ScopeName == "" || seen[ref.ScopeName] {
			continue
		}
		seen[ref.ScopeName] = true
		out = append(out, ref.ScopeName)
	}
	sort.Strings(out)
	return out
}

// Frozen reports whether external resolution has completed.
func (g *Grammar) Frozen() bool {
	return g.frozen
}
