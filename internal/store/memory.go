package store

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/parley/internal/document"
)

// Memory is an in-process DocumentStore with the same observable semantics
// as the Mongo adapter. It backs the package-level tests; nothing about it
// is safe to share across processes.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]document.Document
	// insertion counter breaks ties for equal sort keys
	order map[string]map[string]int
	next  int
}

var _ DocumentStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]document.Document),
		order:       make(map[string]map[string]int),
	}
}

func (m *Memory) coll(name string) map[string]document.Document {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]document.Document)
		m.collections[name] = c
		m.order[name] = make(map[string]int)
	}
	return c
}

func (m *Memory) Get(_ context.Context, collection, id string) (document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memory) Index(_ context.Context, collection, id string, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	c[id] = copyDoc(doc)
	m.order[collection][id] = m.next
	m.next++
	return nil
}

func (m *Memory) Replace(_ context.Context, collection, id string, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	if _, ok := c[id]; !ok {
		return ErrNotFound
	}
	c[id] = copyDoc(doc)
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	if _, ok := c[id]; !ok {
		return ErrNotFound
	}
	delete(c, id)
	delete(m.order[collection], id)
	return nil
}

func (m *Memory) Search(_ context.Context, collection string, q Query) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term := document.Flatten(q.Term)
	var hits []Hit
	for id, doc := range m.collections[collection] {
		if matches(doc, term) {
			hits = append(hits, Hit{ID: id, Source: copyDoc(doc)})
		}
	}

	ord := m.order[collection]
	sort.Slice(hits, func(i, j int) bool {
		if q.SortField != "" {
			a := lookup(hits[i].Source, q.SortField)
			b := lookup(hits[j].Source, q.SortField)
			if c := compare(a, b); c != 0 {
				if q.SortAsc {
					return c < 0
				}
				return c > 0
			}
		}
		return ord[hits[i].ID] < ord[hits[j].ID]
	})

	if q.From >= len(hits) {
		return nil, nil
	}
	hits = hits[q.From:]
	if q.Size > 0 && q.Size < len(hits) {
		hits = hits[:q.Size]
	}
	return hits, nil
}

func (m *Memory) Sum(_ context.Context, collection string, term map[string]any, field string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flat := document.Flatten(term)
	var total int64
	for _, doc := range m.collections[collection] {
		if !matches(doc, flat) {
			continue
		}
		total += toInt64(lookup(doc, field))
	}
	return total, nil
}

func (m *Memory) EnsureCollections(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.coll(name)
	}
	return nil
}

func (m *Memory) DropMatching(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.collections {
		if strings.HasPrefix(name, prefix) {
			delete(m.collections, name)
			delete(m.order, name)
		}
	}
	return nil
}

// Collections lists existing collection names; test inspection helper.
func (m *Memory) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func matches(doc document.Document, term map[string]any) bool {
	for k, v := range term {
		if !reflect.DeepEqual(lookup(doc, k), v) {
			return false
		}
	}
	return true
}

// lookup resolves a dotted path inside a nested document.
func lookup(doc document.Document, path string) any {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func compare(a, b any) int {
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs)
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func copyDoc(doc document.Document) document.Document {
	out := make(document.Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
