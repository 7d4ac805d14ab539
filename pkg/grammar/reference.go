package grammar

import "strings"

// ReferenceKind is the form of an include target.
type ReferenceKind int

const (
	// RefRepository is "#name", a rule from the nearest repository.
	RefRepository ReferenceKind = iota + 1
	// RefSelf is "$self", the including grammar's own top-level rules.
	RefSelf
	// RefBase is "$base", the top-level rules of the grammar being parsed.
	RefBase
	// RefForeign is "source.other", another grammar's top-level rules.
	RefForeign
	// RefForeignRepository is "source.other#name".
	RefForeignRepository
)

func (k ReferenceKind) String() string {
	switch k {
	case RefRepository:
		return "repository"
	case RefSelf:
		return "self"
	case RefBase:
		return "base"
	case RefForeign:
		return "foreign"
	case RefForeignRepository:
		return "foreign-repository"
	}
	return "unknown"
}

// External reports whether the reference can only be resolved once other
// grammars are known.
func (k ReferenceKind) External() bool {
	return k == RefBase || k == RefForeign || k == RefForeignRepository
}

type refState int

const (
	refPending refState = iota
	refResolved
	refFailed
)

// Reference describes an include before and after resolution.
type Reference struct {
	Kind ReferenceKind
	// Name is the repository key for RefRepository and RefForeignRepository.
	Name string
	// ScopeName is the target grammar for RefForeign and RefForeignRepository.
	ScopeName string
	// Raw is the include string as written.
	Raw string

	node   *Pattern
	parent *Pattern
	repo   *Repository
	path   string
	// copied references were produced while splicing; they resolve by linking
	// and never splice again.
	copied bool
	state  refState
	target *Pattern
}

// ParseReference classifies an include string.
func ParseReference(include string) Reference {
	switch {
	case include == "$self":
		return Reference{Kind: RefSelf, Raw: include}
	case include == "$base":
		return Reference{Kind: RefBase, Raw: include}
	case strings.HasPrefix(include, "#"):
		return Reference{Kind: RefRepository, Name: include[1:], Raw: include}
	}
	if scope, name, ok := strings.Cut(include, "#"); ok {
		return Reference{Kind: RefForeignRepository, ScopeName: scope, Name: name, Raw: include}
	}
	return Reference{Kind: RefForeign, ScopeName: include, Raw: include}
}

// Resolved reports whether the reference has been linked or spliced.
func (r *Reference) Resolved() bool {
	return r.state == refResolved
}

// Target returns the node the reference links to, or nil.
func (r *Reference) Target() *Pattern {
	if r.state != refResolved {
		return nil
	}
	return r.target
}
