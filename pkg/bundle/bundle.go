// Package bundle reads grammar and theme collections shipped as tar.gz archives.
package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// Bundle holds the selected files of an archive in memory.
type Bundle struct {
	Files map[string][]byte
}

// Options controls which archive entries end up in the bundle.
type Options struct {
	// StripComponents removes leading path components, like tar --strip-components.
	StripComponents int

	// Include holds doublestar patterns matched against the stripped path.
	// An empty list keeps every regular file.
	Include []string

	// Rename maps a stripped path to the name stored in the bundle. Two
	// entries mapping to the same name is an error.
	Rename func(string) string
}

// Load reads a tar.gz archive.
func Load(data []byte, opts Options) (*Bundle, error) {
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Errorf("invalid include pattern %q", p)
		}
	}

	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	b := &Bundle{Files: map[string][]byte{}}
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Errorf("reading tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		components := SplitPath(header.Name)
		if len(components) <= opts.StripComponents {
			continue
		}
		stripped := path.Join(components[opts.StripComponents:]...)
		if !included(stripped, opts.Include) {
			continue
		}

		name := stripped
		if opts.Rename != nil {
			name = opts.Rename(stripped)
		}
		if _, exists := b.Files[name]; exists {
			return nil, errors.Errorf("file collision: %s (from %s)", name, header.Name)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, errors.Errorf("reading %s: %w", header.Name, err)
		}
		b.Files[name] = buf.Bytes()
	}
	return b, nil
}

func included(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Names returns the stored file names in sorted order.
func (b *Bundle) Names() []string {
	out := make([]string, 0, len(b.Files))
	for name := range b.Files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Extract writes the bundle under dir on fs.
func (b *Bundle) Extract(fs afero.Fs, dir string) error {
	for _, name := range b.Names() {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Errorf("creating directory for %s: %w", name, err)
		}
		if err := afero.WriteFile(fs, target, b.Files[name], 0o644); err != nil {
			return errors.Errorf("writing %s: %w", target, err)
		}
	}
	return nil
}

// SplitPath splits a slash separated archive path into its components.
func SplitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(p, "/") {
		if c == "" || c == "." {
			continue
		}
		out = append(out, c)
	}
	return out
}
