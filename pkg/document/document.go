// Package document keeps the scopes of one evolving text up to date.
package document

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/pkg/position"
	"github.com/walteh/tmscan/pkg/reparse"
	"github.com/walteh/tmscan/pkg/scanner"
	"github.com/walteh/tmscan/pkg/scoped"
)

// Document is a text plus its recorded scopes. Updates are serialized; each
// one starts from the state the previous one left behind.
type Document struct {
	parser *scanner.Parser

	mu   sync.Mutex
	text *scoped.Text
}

// Open scans text in full.
func Open(ctx context.Context, p *scanner.Parser, text string, cb scanner.Callback) (*Document, error) {
	doc, err := p.Parse(ctx, text, cb)
	if err != nil {
		return nil, errors.Errorf("opening document: %w", err)
	}
	return &Document{parser: p, text: doc}, nil
}

// Update moves the document to newText, which e produced from the current
// text, and rescans as little as it can. The returned range is what was
// rescanned. When the edit does not explain newText the whole text is
// rescanned. On error, cancellation included, the document is unchanged.
func (d *Document) Update(ctx context.Context, e reparse.Edit, newText string, cb scanner.Callback) (position.Range, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	logger := zerolog.Ctx(ctx)

	scratch, r, ok := reparse.Prepare(d.text, e, newText)
	if !ok {
		logger.Debug().Stringer("edit", e).Msg("edit does not match new text, rescanning everything")
		doc, err := d.parser.Parse(ctx, newText, cb)
		if err != nil {
			return position.Range{}, errors.Errorf("rescanning document: %w", err)
		}
		d.text = doc
		return doc.Base().Range, nil
	}

	processed, err := d.parser.ParseRange(ctx, scratch, r, cb)
	if err != nil {
		return position.Range{}, errors.Errorf("rescanning %s: %w", r, err)
	}
	logger.Debug().Stringer("edit", e).Stringer("planned", r).Stringer("processed", processed).Msg("updated document")

	d.text = scratch
	return processed, nil
}

func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.String()
}

// Scopes returns a copy of the recorded scopes.
func (d *Document) Scopes() *scoped.Text {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.Clone()
}

// ScopeAt returns the innermost scope name at index.
func (d *Document) ScopeAt(index int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.TopmostAt(index).Name
}
