// Package diagnostic carries the non-fatal problems found while building and
// linking grammars. Nothing reported here stops a grammar from being used: the
// offending rule or reference simply contributes nothing to matching.
package diagnostic

import (
	"fmt"
	"strings"

	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"
)

// Kind classifies a diagnostic.
type Kind string

const (
	// MalformedRule is a rule with neither a match, a begin/end pair nor children.
	MalformedRule Kind = "malformed-rule"
	// InvalidRegex is a rule whose expression does not compile.
	InvalidRegex Kind = "invalid-regex"
	// InvalidCapture is a capture key that is not a group index.
	InvalidCapture Kind = "invalid-capture"
	// UnresolvedReference is an include that names nothing known.
	UnresolvedReference Kind = "unresolved-reference"
	// InvalidMetadata covers grammar level keys such as a malformed uuid.
	InvalidMetadata Kind = "invalid-metadata"
)

// Severity is the severity level of a diagnostic.
type Severity string

const (
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

// Diagnostic is a single problem located inside a grammar definition.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	// Grammar is the scope name of the grammar the problem was found in.
	Grammar string
	// Path locates the rule, e.g. "patterns[2].patterns[0]" or "repository.strings".
	Path    string
	Message string
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	sb.WriteString(string(d.Severity))
	sb.WriteString(": ")
	if d.Grammar != "" {
		sb.WriteString(d.Grammar)
		if d.Path != "" {
			sb.WriteString(" ")
		}
	}
	if d.Path != "" {
		sb.WriteString(d.Path)
	}
	if d.Grammar != "" || d.Path != "" {
		sb.WriteString(": ")
	}
	sb.WriteString(d.Message)
	sb.WriteString(fmt.Sprintf(" [%s]", d.Kind))
	return sb.String()
}

// Diagnostics is an ordered list of diagnostics.
type Diagnostics []Diagnostic

// Add appends a diagnostic built from a format string.
func (ds *Diagnostics) Add(kind Kind, severity Severity, grammar, path, format string, args ...any) {
	*ds = append(*ds, Diagnostic{
		Kind:     kind,
		Severity: severity,
		Grammar:  grammar,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (ds Diagnostics) OfKind(kind Kind) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Err folds every error-severity diagnostic into a single error, or nil.
func (ds Diagnostics) Err() error {
	var err error
	for _, d := range ds {
		if d.Severity != Error {
			continue
		}
		err = multierr.Append(err, errors.New(d.String()))
	}
	return err
}
