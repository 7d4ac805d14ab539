package grammar

import (
	"context"
	"maps"
	"sort"

	"github.com/rs/zerolog"

	"github.com/walteh/tmscan/pkg/diagnostic"
)

// Lookup finds grammars by scope name.
type Lookup interface {
	LookupGrammar(scopeName string) (*Grammar, bool)
}

type LookupFunc func(scopeName string) (*Grammar, bool)

func (f LookupFunc) LookupGrammar(scopeName string) (*Grammar, bool) {
	return f(scopeName)
}

// Set is a group of grammars keyed by scope name.
type Set map[string]*Grammar

func NewSet(grammars ...*Grammar) Set {
	s := Set{}
	for _, g := range grammars {
		s[g.ScopeName] = g
	}
	return s
}

func (s Set) LookupGrammar(scopeName string) (*Grammar, bool) {
	g, ok := s[scopeName]
	return g, ok
}

func (s Set) Scopes() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Link resolves the external references of every grammar in the set, with
// the grammar named by baseScope standing in for $base, then freezes them.
func Link(ctx context.Context, grammars []*Grammar, baseScope string) diagnostic.Diagnostics {
	set := NewSet(grammars...)
	base := set[baseScope]
	var diags diagnostic.Diagnostics
	for _, g := range grammars {
		diags = append(diags, g.ResolveExternal(ctx, base, set)...)
	}
	for _, g := range grammars {
		g.Freeze()
	}
	return diags
}

// ResolveExternal resolves $base and cross-grammar references. $base and
// whole-grammar includes are spliced in as copies of the target's top-level
// rules; "scope#name" includes link to the target's repository entry.
func (g *Grammar) ResolveExternal(ctx context.Context, base *Grammar, lookup Lookup) diagnostic.Diagnostics {
	var diags diagnostic.Diagnostics
	if g.frozen {
		zerolog.Ctx(ctx).Debug().Str("scope", g.ScopeName).Msg("grammar already frozen, skipping external resolution")
		return diags
	}

	// splicing may queue more references, so walk until the queue drains
	for i := 0; i < len(g.external); i++ {
		ref := g.external[i]
		if ref.state != refPending {
			continue
		}
		switch ref.Kind {
		case RefBase:
			if base == nil {
				g.fail(ctx, ref, &diags, "no base grammar")
				continue
			}
			g.spliceFrom(ref, base)

		case RefForeign:
			other, ok := lookup.LookupGrammar(ref.ScopeName)
			if !ok || other == nil {
				g.fail(ctx, ref, &diags, "unknown grammar %q", ref.ScopeName)
				continue
			}
			g.spliceFrom(ref, other)

		case RefForeignRepository:
			other, ok := lookup.LookupGrammar(ref.ScopeName)
			if !ok || other == nil {
				g.fail(ctx, ref, &diags, "unknown grammar %q", ref.ScopeName)
				continue
			}
			target, ok := other.Repository.Lookup(ref.Name)
			if !ok {
				g.fail(ctx, ref, &diags, "grammar %q has no repository entry %q", ref.ScopeName, ref.Name)
				continue
			}
			ref.link(target)
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("scope", g.ScopeName).
		Int("external", len(g.external)).
		Int("unresolved", len(diags)).
		Msg("resolved external references")
	return diags
}

// Freeze ends the grammar's construction. Later ResolveExternal calls are ignored.
func (g *Grammar) Freeze() {
	g.frozen = true
	g.external = nil
}

func (g *Grammar) spliceFrom(ref *Reference, source *Grammar) {
	if ref.copied || ref.parent == nil {
		ref.link(source.Root)
		return
	}
	c := &copier{grammar: g, self: source.Root, register: true, memo: map[*Pattern]*Pattern{}}
	g.spliceCopies(ref, c.children(source.Root, ref.parent), source.Root)
}

func (g *Grammar) spliceCopies(ref *Reference, copies []*Pattern, source *Pattern) {
	ref.parent.replaceChild(ref.node, copies)
	ref.link(source)
}

// copier deep-copies the nodes a pattern owns. Resolved references are copied
// as links to the same target, so the copy stays finite however the grammar
// refers to itself.
type copier struct {
	grammar *Grammar
	// self is what a still-pending $self in the source refers to.
	self *Pattern
	// register queues copied external references on grammar.
	register bool
	memo     map[*Pattern]*Pattern
}

func (c *copier) children(p, parent *Pattern) []*Pattern {
	out := make([]*Pattern, 0, len(p.Children))
	for _, child := range p.Children {
		out = append(out, c.copy(child, parent))
	}
	return out
}

func (c *copier) copy(p, parent *Pattern) *Pattern {
	if cp, ok := c.memo[p]; ok {
		return cp
	}
	cp := &Pattern{
		Kind:          p.Kind,
		Scope:         p.Scope,
		Match:         p.Match,
		Captures:      maps.Clone(p.Captures),
		Begin:         p.Begin,
		End:           p.End,
		BeginCaptures: maps.Clone(p.BeginCaptures),
		EndCaptures:   maps.Clone(p.EndCaptures),
		EndPriority:   p.EndPriority,
	}
	c.memo[p] = cp

	if p.Ref != nil {
		src := p.Ref
		ref := &Reference{
			Kind:      src.Kind,
			Name:      src.Name,
			ScopeName: src.ScopeName,
			Raw:       src.Raw,
			node:      cp,
			parent:    parent,
			repo:      src.repo,
			path:      src.path,
			copied:    true,
			state:     src.state,
			target:    src.target,
		}
		cp.Ref = ref
		if ref.state == refPending {
			switch {
			case ref.Kind == RefSelf:
				ref.link(c.self)
			case ref.Kind == RefRepository:
				if target, ok := ref.repo.Lookup(ref.Name); ok {
					ref.link(target)
				} else {
					ref.state = refFailed
				}
			case c.register:
				c.grammar.external = append(c.grammar.external, ref)
			}
		}
	}

	if len(p.Children) > 0 {
		cp.Children = c.children(p, cp)
	}
	return cp
}
