package semtok

import (
	"strings"

	"github.com/walteh/tmscan/pkg/position"
)

// TokenType is the semantic meaning of a token. Values index Legend().Types
// after subtracting one; zero means unclassified.
type TokenType uint32

const (
	TokenVariable TokenType = iota + 1
	TokenFunction
	TokenKeyword
	TokenOperator
	TokenString
	TokenComment
	TokenNumber
	TokenTypeName
	TokenProperty
	TokenRegexp
)

var typeNames = []string{"variable", "function", "keyword", "operator", "string", "comment", "number", "type", "property", "regexp"}

func (t TokenType) String() string {
	if t == 0 || int(t) > len(typeNames) {
		return "unknown"
	}
	return typeNames[t-1]
}

// TokenModifier is a bit set.
type TokenModifier uint32

const (
	ModifierNone        TokenModifier = 0
	ModifierDeclaration TokenModifier = 1 << (iota - 1)
	ModifierReadonly
	ModifierStatic
	ModifierDocumentation
)

var modifierNames = []string{"declaration", "readonly", "static", "documentation"}

func (m TokenModifier) String() string {
	if m == ModifierNone {
		return "none"
	}
	var parts []string
	for i, name := range modifierNames {
		if m&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}

// Token is one classified run of text. A token never spans a line break.
type Token struct {
	Type     TokenType
	Modifier TokenModifier
	Range    position.Range
	// Scope is the scope name the classification came from.
	Scope string
}

// Legend lists the token type and modifier names in encoding order.
type Legend struct {
	Types     []string
	Modifiers []string
}

func DefaultLegend() Legend {
	return Legend{
		Types:     append([]string(nil), typeNames...),
		Modifiers: append([]string(nil), modifierNames...),
	}
}

type rule struct {
	prefix   string
	typ      TokenType
	modifier TokenModifier
}

// rules are matched on whole dot separated prefixes; the longest wins.
var rules = []rule{
	{"comment", TokenComment, ModifierNone},
	{"comment.block.documentation", TokenComment, ModifierDocumentation},
	{"string", TokenString, ModifierNone},
	{"string.regexp", TokenRegexp, ModifierNone},
	{"constant.numeric", TokenNumber, ModifierReadonly},
	{"constant.language", TokenKeyword, ModifierReadonly},
	{"constant.other", TokenVariable, ModifierReadonly},
	{"keyword", TokenKeyword, ModifierNone},
	{"keyword.operator", TokenOperator, ModifierNone},
	{"storage", TokenKeyword, ModifierNone},
	{"storage.type", TokenTypeName, ModifierNone},
	{"entity.name.function", TokenFunction, ModifierDeclaration},
	{"support.function", TokenFunction, ModifierStatic},
	{"entity.name.type", TokenTypeName, ModifierDeclaration},
	{"entity.name.class", TokenTypeName, ModifierDeclaration},
	{"support.type", TokenTypeName, ModifierStatic},
	{"support.class", TokenTypeName, ModifierStatic},
	{"entity.name.tag", TokenProperty, ModifierNone},
	{"entity.other.attribute-name", TokenProperty, ModifierNone},
	{"variable", TokenVariable, ModifierNone},
	{"variable.other.constant", TokenVariable, ModifierReadonly},
	{"variable.parameter", TokenVariable, ModifierDeclaration},
}

// Classify maps a scope name onto a token type. It reports false for scopes
// with no semantic meaning, such as punctuation or meta scopes.
func Classify(scope string) (TokenType, TokenModifier, bool) {
	best := -1
	for i, r := range rules {
		if scope != r.prefix && !strings.HasPrefix(scope, r.prefix+".") {
			continue
		}
		if best < 0 || len(r.prefix) > len(rules[best].prefix) {
			best = i
		}
	}
	if best < 0 {
		return 0, ModifierNone, false
	}
	return rules[best].typ, rules[best].modifier, true
}
