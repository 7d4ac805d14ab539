package grammar

import "sort"

// Repository holds named rules. Nested repositories fall back to their
// parent on lookup.
type Repository struct {
	entries map[string]*Pattern
	parent  *Repository
}

func newRepository(parent *Repository) *Repository {
	return &Repository{entries: map[string]*Pattern{}, parent: parent}
}

// Lookup finds name in r or the nearest enclosing repository that has it.
func (r *Repository) Lookup(name string) (*Pattern, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		if p, ok := cur.entries[name]; ok {
			return p, true
		}
	}
	return nil, false
}

// Names lists the entries defined directly in r.
func (r *Repository) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
