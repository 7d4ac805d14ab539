package grammar

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Definition is the raw, unresolved form of a grammar as found on disk.
type Definition struct {
	UUID       string                    `json:"uuid,omitempty" yaml:"uuid,omitempty" plist:"uuid,omitempty"`
	Name       string                    `json:"name,omitempty" yaml:"name,omitempty" plist:"name,omitempty"`
	ScopeName  string                    `json:"scopeName" yaml:"scopeName" plist:"scopeName"`
	FileTypes  []string                  `json:"fileTypes,omitempty" yaml:"fileTypes,omitempty" plist:"fileTypes,omitempty"`
	Patterns   []RuleDefinition          `json:"patterns" yaml:"patterns" plist:"patterns"`
	Repository map[string]RuleDefinition `json:"repository,omitempty" yaml:"repository,omitempty" plist:"repository,omitempty"`
}

// RuleDefinition is one raw rule entry. Exactly which keys are set decides
// the kind of pattern node it becomes.
type RuleDefinition struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty" plist:"name,omitempty"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty" plist:"comment,omitempty"`
	Include string `json:"include,omitempty" yaml:"include,omitempty" plist:"include,omitempty"`
	Match   string `json:"match,omitempty" yaml:"match,omitempty" plist:"match,omitempty"`
	Begin   string `json:"begin,omitempty" yaml:"begin,omitempty" plist:"begin,omitempty"`
	End     string `json:"end,omitempty" yaml:"end,omitempty" plist:"end,omitempty"`

	// ApplyEndPatternLast lets child rules win over the end pattern when both
	// match at the same position.
	ApplyEndPatternLast Flag `json:"applyEndPatternLast,omitempty" yaml:"applyEndPatternLast,omitempty" plist:"applyEndPatternLast,omitempty"`
	// Disabled drops the rule entirely.
	Disabled Flag `json:"disabled,omitempty" yaml:"disabled,omitempty" plist:"disabled,omitempty"`

	// Captures is shorthand for both BeginCaptures and EndCaptures on a begin/end rule.
	Captures      map[string]CaptureDefinition `json:"captures,omitempty" yaml:"captures,omitempty" plist:"captures,omitempty"`
	BeginCaptures map[string]CaptureDefinition `json:"beginCaptures,omitempty" yaml:"beginCaptures,omitempty" plist:"beginCaptures,omitempty"`
	EndCaptures   map[string]CaptureDefinition `json:"endCaptures,omitempty" yaml:"endCaptures,omitempty" plist:"endCaptures,omitempty"`

	Patterns   []RuleDefinition          `json:"patterns,omitempty" yaml:"patterns,omitempty" plist:"patterns,omitempty"`
	Repository map[string]RuleDefinition `json:"repository,omitempty" yaml:"repository,omitempty" plist:"repository,omitempty"`
}

type CaptureDefinition struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty" plist:"name,omitempty"`
}

// Flag is a boolean that grammar files spell as true/false, 0/1 or a string
// holding either.
type Flag bool

func parseFlag(s string) (Flag, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return Flag(b), nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, errors.Errorf("invalid flag value %q", s)
	}
	return n != 0, nil
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	v, err := parseFlag(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseFlag(node.Value)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f *Flag) UnmarshalPlist(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*f = Flag(v)
	case uint64:
		*f = v != 0
	case int64:
		*f = v != 0
	case float64:
		*f = v != 0
	case string:
		parsed, err := parseFlag(v)
		if err != nil {
			return err
		}
		*f = parsed
	default:
		return errors.Errorf("invalid flag value of type %T", raw)
	}
	return nil
}

// Format is an on-disk encoding of a grammar or theme.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatPlist Format = "plist"
)

// FormatForPath guesses the encoding from a file name, e.g.
// "go.tmLanguage.json", "yaml.tmLanguage.yaml" or "Swift.tmLanguage".
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".tmlanguage", ".tmtheme", ".plist", ".xml":
		return FormatPlist, true
	}
	return "", false
}

// Decode reads a grammar definition in the given format.
func Decode(data []byte, format Format) (*Definition, error) {
	var def Definition
	if err := Unmarshal(data, format, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Unmarshal decodes data of the given format into v. It is shared with the
// theme loader, whose files come in the same encodings.
func Unmarshal(data []byte, format Format, v any) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return errors.Errorf("unmarshaling json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(v); err != nil {
			return errors.Errorf("unmarshaling yaml: %w", err)
		}
	case FormatPlist:
		if _, err := plist.Unmarshal(data, v); err != nil {
			return errors.Errorf("unmarshaling plist: %w", err)
		}
	default:
		return errors.Errorf("unknown format %q", format)
	}
	return nil
}

func DecodeJSON(data []byte) (*Definition, error)  { return Decode(data, FormatJSON) }
func DecodeYAML(data []byte) (*Definition, error)  { return Decode(data, FormatYAML) }
func DecodePlist(data []byte) (*Definition, error) { return Decode(data, FormatPlist) }

// FromMap converts a generic nested key/value structure, as produced by any
// decoder, into a definition.
func FromMap(raw map[string]any) (*Definition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Errorf("marshaling raw grammar: %w", err)
	}
	return DecodeJSON(data)
}
