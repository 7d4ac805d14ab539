// Package theme maps scope names to style attributes.
package theme

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/tmscan/pkg/grammar"
)

// Attributes are the style settings for one scope, e.g. "foreground" or
// "fontStyle".
type Attributes map[string]string

const (
	Foreground = "foreground"
	Background = "background"
	FontStyle  = "fontStyle"
)

// RGB decodes the #rrggbb or #rrggbbaa color stored under key.
func (a Attributes) RGB(key string) (r, g, b uint8, ok bool) {
	v := strings.TrimPrefix(a[key], "#")
	if len(v) != 6 && len(v) != 8 {
		return 0, 0, 0, false
	}
	n, err := strconv.ParseUint(v[:6], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(n >> 16), uint8(n >> 8), uint8(n), true
}

// Selectors is a list of scope names, written either as one comma separated
// string or as a list.
type Selectors []string

func splitSelectors(s string) Selectors {
	var out Selectors
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Selectors) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = splitSelectors(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Errorf("scope must be a string or a list: %w", err)
	}
	*s = splitSelectors(strings.Join(many, ","))
	return nil
}

func (s *Selectors) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = splitSelectors(node.Value)
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return errors.Errorf("scope must be a string or a list: %w", err)
	}
	*s = splitSelectors(strings.Join(many, ","))
	return nil
}

func (s *Selectors) UnmarshalPlist(unmarshal func(any) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*s = splitSelectors(one)
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return errors.Errorf("scope must be a string or a list: %w", err)
	}
	*s = splitSelectors(strings.Join(many, ","))
	return nil
}

// Setting is one raw theme rule. A setting without a scope applies to the
// whole text.
type Setting struct {
	Name     string     `json:"name,omitempty" yaml:"name,omitempty" plist:"name,omitempty"`
	Scope    Selectors  `json:"scope,omitempty" yaml:"scope,omitempty" plist:"scope,omitempty"`
	Settings Attributes `json:"settings" yaml:"settings" plist:"settings"`
}

// Definition is the raw form of a theme. TextMate themes list their rules
// under settings, editor themes under tokenColors.
type Definition struct {
	UUID        string    `json:"uuid,omitempty" yaml:"uuid,omitempty" plist:"uuid,omitempty"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty" plist:"name,omitempty"`
	Settings    []Setting `json:"settings,omitempty" yaml:"settings,omitempty" plist:"settings,omitempty"`
	TokenColors []Setting `json:"tokenColors,omitempty" yaml:"tokenColors,omitempty" plist:"tokenColors,omitempty"`
}

// Theme answers attribute lookups for scope names.
type Theme struct {
	UUID string
	Name string

	global Attributes
	scopes map[string]Attributes
}

// New builds a theme. Later settings for the same scope replace earlier ones.
func New(def *Definition) *Theme {
	t := &Theme{UUID: def.UUID, Name: def.Name, global: Attributes{}, scopes: map[string]Attributes{}}
	for _, s := range append(append([]Setting{}, def.Settings...), def.TokenColors...) {
		if len(s.Settings) == 0 {
			continue
		}
		if len(s.Scope) == 0 {
			for k, v := range s.Settings {
				t.global[k] = v
			}
			continue
		}
		for _, scope := range s.Scope {
			t.scopes[scope] = s.Settings
		}
	}
	return t
}

// Decode reads a theme in the given format.
func Decode(data []byte, format grammar.Format) (*Theme, error) {
	var def Definition
	if err := grammar.Unmarshal(data, format, &def); err != nil {
		return nil, errors.Errorf("decoding theme: %w", err)
	}
	return New(&def), nil
}

func DecodeJSON(data []byte) (*Theme, error)  { return Decode(data, grammar.FormatJSON) }
func DecodeYAML(data []byte) (*Theme, error)  { return Decode(data, grammar.FormatYAML) }
func DecodePlist(data []byte) (*Theme, error) { return Decode(data, grammar.FormatPlist) }

// Load reads a theme file, choosing the format from its extension.
func Load(fs afero.Fs, path string) (*Theme, error) {
	format, ok := grammar.FormatForPath(path)
	if !ok {
		return nil, errors.Errorf("unknown theme format for %s", path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Errorf("reading theme: %w", err)
	}
	return Decode(data, format)
}

// Global returns the attributes that apply to the whole text.
func (t *Theme) Global() Attributes {
	return t.global
}

// Attributes merges the settings of every dot separated prefix of scope,
// shortest first, so "string.quoted" overrides "string". It returns nil when
// no prefix has settings.
func (t *Theme) Attributes(scope string) Attributes {
	var out Attributes
	parts := strings.Split(scope, ".")
	for i := range parts {
		attrs, ok := t.scopes[strings.Join(parts[:i+1], ".")]
		if !ok {
			continue
		}
		if out == nil {
			out = Attributes{}
		}
		for k, v := range attrs {
			out[k] = v
		}
	}
	return out
}
