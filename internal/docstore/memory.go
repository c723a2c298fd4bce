package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memCollection struct {
	order  []string
	docs   map[string]Document
	unique map[string]string // unique key -> doc id
	keys   map[string]string // doc id -> unique key
}

// MemoryStore keeps documents in process memory. Offline/dev mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]*memCollection{}, now: time.Now}
}

// WithClock replaces the timestamp source.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) coll(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: map[string]Document{}, unique: map[string]string{}, keys: map[string]string{}}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryStore) List(_ context.Context, collection string, q Query) (Page, error) {
	q, err := q.validate()
	if err != nil {
		return Page{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return Page{Documents: []Document{}}, nil
	}
	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		d, err := cloneDoc(c.docs[id])
		if err != nil {
			return Page{}, err
		}
		docs = append(docs, d)
	}
	return apply(docs, q), nil
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDoc(d)
}

func (m *MemoryStore) Create(_ context.Context, collection string, in CreateInput) (Document, error) {
	data, err := normalizeJSON(in.Data)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := c.docs[id]; exists {
		return Document{}, fmt.Errorf("%w: id %s", ErrConflict, id)
	}
	if in.UniqueKey != "" {
		if _, exists := c.unique[in.UniqueKey]; exists {
			return Document{}, fmt.Errorf("%w: key %s", ErrConflict, in.UniqueKey)
		}
		c.unique[in.UniqueKey] = id
		c.keys[id] = in.UniqueKey
	}
	now := m.now().UTC()
	d := Document{ID: id, Collection: collection, CreatedAt: now, UpdatedAt: now, Data: data}
	c.docs[id] = d
	c.order = append(c.order, id)
	return cloneDoc(d)
}

func (m *MemoryStore) Update(_ context.Context, collection, id string, patch map[string]any) (Document, error) {
	p, err := normalizeJSON(patch)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	for k, v := range p {
		d.Data[k] = v
	}
	d.UpdatedAt = m.now().UTC()
	c.docs[id] = d
	return cloneDoc(d)
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	if _, ok := c.docs[id]; !ok {
		return ErrNotFound
	}
	delete(c.docs, id)
	if k, ok := c.keys[id]; ok {
		delete(c.unique, k)
		delete(c.keys, id)
	}
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func cloneDoc(d Document) (Document, error) {
	data, err := normalizeJSON(d.Data)
	if err != nil {
		return Document{}, err
	}
	d.Data = data
	return d, nil
}
