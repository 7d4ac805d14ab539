package grammar

import (
	"slices"
	"sort"
)

// Kind identifies what a pattern node does when the matcher visits it.
type Kind int

const (
	KindMatch Kind = iota + 1
	KindBeginEnd
	KindContainer
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindBeginEnd:
		return "begin-end"
	case KindContainer:
		return "container"
	case KindReference:
		return "reference"
	}
	return "unknown"
}

// EndPriority decides who wins when a block's end pattern and one of its
// children match at the same position.
type EndPriority int

const (
	EndBeforeChildren EndPriority = iota
	EndAfterChildren
)

// CaptureMap maps capture group numbers to scope names.
type CaptureMap map[int]string

// Indexes returns the group numbers in ascending order.
func (c CaptureMap) Indexes() []int {
	out := make([]int, 0, len(c))
	for i := range c {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Pattern is one node of a compiled grammar.
type Pattern struct {
	Kind Kind
	// Scope is the scope name applied to the whole match or block. It may be empty.
	Scope string

	Match    *Regex
	Captures CaptureMap

	Begin         *Regex
	End           *Regex
	BeginCaptures CaptureMap
	EndCaptures   CaptureMap
	EndPriority   EndPriority

	Children []*Pattern

	// Ref is set on reference nodes only.
	Ref *Reference
}

// maxReferenceDepth bounds chains of references pointing at references.
const maxReferenceDepth = 64

// Resolve returns the node that behaves in place of p: p itself for ordinary
// nodes, the linked target for resolved references and nil for references
// that never resolved.
func (p *Pattern) Resolve() *Pattern {
	cur := p
	for range maxReferenceDepth {
		if cur == nil || cur.Kind != KindReference {
			return cur
		}
		if cur.Ref == nil || cur.Ref.state != refResolved {
			return nil
		}
		cur = cur.Ref.target
	}
	return nil
}

// Walk visits p and every node reachable through its children and resolved
// references, each node once.
func (p *Pattern) Walk(fn func(*Pattern) bool) {
	seen := map[*Pattern]bool{}
	var visit func(*Pattern)
	visit = func(n *Pattern) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if !fn(n) {
			return
		}
		if n.Kind == KindReference && n.Ref != nil && n.Ref.state == refResolved {
			visit(n.Ref.target)
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(p)
}

func (p *Pattern) removeChild(child *Pattern) bool {
	idx := slices.Index(p.Children, child)
	if idx < 0 {
		return false
	}
	p.Children = slices.Delete(slices.Clone(p.Children), idx, idx+1)
	return true
}

func (p *Pattern) replaceChild(child *Pattern, with []*Pattern) bool {
	idx := slices.Index(p.Children, child)
	if idx < 0 {
		return false
	}
	next := make([]*Pattern, 0, len(p.Children)-1+len(with))
	next = append(next, p.Children[:idx]...)
	next = append(next, with...)
	next = append(next, p.Children[idx+1:]...)
	p.Children = next
	return true
}
