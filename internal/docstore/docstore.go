// Package docstore is a small document database gateway: collections of JSON
// documents queried with filter predicates and offset pagination.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrConflict     = errors.New("document already exists")
	ErrInvalidQuery = errors.New("invalid query")
)

// System attribute names usable in filters, projections and ordering.
const (
	FieldID        = "$id"
	FieldCreatedAt = "$createdAt"
	FieldUpdatedAt = "$updatedAt"
)

type Document struct {
	ID         string         `json:"$id"`
	Collection string         `json:"$collectionId"`
	CreatedAt  time.Time      `json:"$createdAt"`
	UpdatedAt  time.Time      `json:"$updatedAt"`
	Data       map[string]any `json:"data"`
}

// Field resolves a system attribute or a top-level data attribute. System
// timestamps come back as time.Time.
func (d Document) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return d.ID, true
	case FieldCreatedAt:
		return d.CreatedAt.UTC(), true
	case FieldUpdatedAt:
		return d.UpdatedAt.UTC(), true
	}
	v, ok := d.Data[name]
	return v, ok
}

// Decode copies the document data into v (a pointer to a struct with json tags).
// The document id is exposed to v under "$id".
func (d Document) Decode(v any) error {
	m := make(map[string]any, len(d.Data)+1)
	for k, val := range d.Data {
		m[k] = val
	}
	m[FieldID] = d.ID
	m[FieldCreatedAt] = d.CreatedAt
	m[FieldUpdatedAt] = d.UpdatedAt
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// ToData converts a struct into document data. System attributes are dropped.
func ToData(v any) (map[string]any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	delete(m, FieldID)
	delete(m, FieldCreatedAt)
	delete(m, FieldUpdatedAt)
	return m, nil
}

type Page struct {
	Total     int        `json:"total"`
	Documents []Document `json:"documents"`
}

type CreateInput struct {
	ID string // optional; generated when empty
	// UniqueKey, when set, must be unique inside the collection.
	// A second Create with the same key fails with ErrConflict.
	UniqueKey string
	Data      map[string]any
}

type Store interface {
	List(ctx context.Context, collection string, q Query) (Page, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection string, in CreateInput) (Document, error)
	// Update shallow-merges patch into the stored data.
	Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Collection builds the storage name of a collection inside a database.
func Collection(databaseID, collectionID string) string {
	return databaseID + "." + collectionID
}

// ListAll walks every page of q and returns the concatenated documents.
func ListAll(ctx context.Context, s Store, collection string, q Query) ([]Document, error) {
	q.Limit = MaxPageSize
	q.Offset = 0
	var out []Document
	for {
		page, err := s.List(ctx, collection, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Documents...)
		q.Offset += len(page.Documents)
		if len(page.Documents) < q.Limit || q.Offset >= page.Total {
			return out, nil
		}
	}
}

// normalizeJSON round-trips data through encoding/json so every store hands
// back the same value shapes (float64 numbers, []any, map[string]any) and no
// caller shares memory with stored state.
func normalizeJSON(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
