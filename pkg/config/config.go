// Package config loads tmscan.yaml / tmscan.hcl project files.
package config

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/tmscan/pkg/grammar"
	"github.com/walteh/tmscan/pkg/logging"
	"github.com/walteh/tmscan/pkg/theme"
)

// DefaultNames are tried in order when no config path is given.
var DefaultNames = []string{"tmscan.yaml", "tmscan.yml", "tmscan.hcl"}

type Config struct {
	// GrammarDirs are walked for grammar files.
	GrammarDirs []string `json:"grammar_dirs,omitempty" yaml:"grammar_dirs,omitempty" hcl:"grammar_dirs,optional"`
	// Bundles are tar.gz archives holding grammar files.
	Bundles []string `json:"bundles,omitempty" yaml:"bundles,omitempty" hcl:"bundles,optional"`
	// Theme is a tmTheme / json / yaml theme file.
	Theme string `json:"theme,omitempty" yaml:"theme,omitempty" hcl:"theme,optional"`
	// DefaultScope is used when a file's scope can't be derived from its name.
	DefaultScope string `json:"default_scope,omitempty" yaml:"default_scope,omitempty" hcl:"default_scope,optional"`
	// MatchTimeoutMs bounds a single regex search. Zero disables the limit.
	MatchTimeoutMs int `json:"match_timeout_ms,omitempty" yaml:"match_timeout_ms,omitempty" hcl:"match_timeout_ms,optional"`

	Log *LogBlock `json:"log,omitempty" yaml:"log,omitempty" hcl:"log,block"`
}

type LogBlock struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" hcl:"level,optional"`
	JSON   bool   `json:"json,omitempty" yaml:"json,omitempty" hcl:"json,optional"`
	Color  bool   `json:"color,omitempty" yaml:"color,omitempty" hcl:"color,optional"`
	Caller bool   `json:"caller,omitempty" yaml:"caller,omitempty" hcl:"caller,optional"`
}

// Load reads a config file. The format follows the extension: .yaml and
// .yml are YAML, anything else is HCL.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, errors.Errorf("parsing YAML: %w", err)
		}
	} else {
		parser := hclparse.NewParser()
		hclFile, diags := parser.ParseHCL(data, path)
		if diags.HasErrors() {
			return nil, errors.Errorf("parsing HCL: %s", diags.Error())
		}

		ctx := &hcl.EvalContext{
			Variables: map[string]cty.Value{},
		}

		diags = gohcl.DecodeBody(hclFile.Body, ctx, &cfg)
		if diags.HasErrors() {
			return nil, errors.Errorf("decoding HCL: %s", diags.Error())
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating %s: %w", path, err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	return &cfg, nil
}

// Find loads path when set, otherwise the first of DefaultNames present in
// dir. With nothing found it returns an empty config.
func Find(fs afero.Fs, dir, path string) (*Config, error) {
	if path != "" {
		return Load(fs, path)
	}
	for _, name := range DefaultNames {
		p := filepath.Join(dir, name)
		if ok, err := afero.Exists(fs, p); err != nil {
			return nil, errors.Errorf("checking %s: %w", p, err)
		} else if ok {
			return Load(fs, p)
		}
	}
	return &Config{}, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error
	if c.MatchTimeoutMs < 0 {
		result = multierror.Append(result, errors.Errorf("match_timeout_ms must not be negative, got %d", c.MatchTimeoutMs))
	}
	for i, d := range c.GrammarDirs {
		if strings.TrimSpace(d) == "" {
			result = multierror.Append(result, errors.Errorf("grammar_dirs[%d] is empty", i))
		}
	}
	for i, b := range c.Bundles {
		if strings.TrimSpace(b) == "" {
			result = multierror.Append(result, errors.Errorf("bundles[%d] is empty", i))
		}
	}
	return result.ErrorOrNil()
}

// relative paths are taken relative to the config file
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.GrammarDirs {
		c.GrammarDirs[i] = abs(c.GrammarDirs[i])
	}
	for i := range c.Bundles {
		c.Bundles[i] = abs(c.Bundles[i])
	}
	c.Theme = abs(c.Theme)
}

func (c *Config) MatchTimeout() time.Duration {
	return time.Duration(c.MatchTimeoutMs) * time.Millisecond
}

func (c *Config) LogOptions() logging.Options {
	if c.Log == nil {
		return logging.Options{}
	}
	return logging.Options{Level: c.Log.Level, JSON: c.Log.JSON, Color: c.Log.Color, Caller: c.Log.Caller}
}

// Store builds a grammar store holding every configured grammar. Load
// failures of individual files are logged, not returned.
func (c *Config) Store(ctx context.Context, fs afero.Fs) (*grammar.Store, error) {
	store := grammar.NewStore(ctx, grammar.WithFs(fs), grammar.WithMatchTimeout(c.MatchTimeout()))

	for _, dir := range c.GrammarDirs {
		if err := store.LoadDir(ctx, dir); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("dir", dir).Msg("some grammars failed to load")
		}
	}
	for _, path := range c.Bundles {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, errors.Errorf("reading bundle %s: %w", path, err)
		}
		if err := store.LoadBundle(ctx, data); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("bundle", path).Msg("some grammars failed to load")
		}
	}
	return store, nil
}

// LoadTheme returns the configured theme, or nil when none is set.
func (c *Config) LoadTheme(fs afero.Fs) (*theme.Theme, error) {
	if c.Theme == "" {
		return nil, nil
	}
	return theme.Load(fs, c.Theme)
}

// ScopeFor picks the grammar for a file name, falling back to DefaultScope.
func (c *Config) ScopeFor(store *grammar.Store, name string) (string, error) {
	if scope, ok := store.ScopeForPath(name); ok {
		return scope, nil
	}
	if c.DefaultScope != "" {
		return c.DefaultScope, nil
	}
	return "", errors.Errorf("no grammar for %s and no default_scope configured", name)
}
