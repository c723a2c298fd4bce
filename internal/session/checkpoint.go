package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mind-engage/iti-mocktest/internal/storage"
)

var ErrNoCheckpoint = errors.New("no checkpoint")

// Checkpointer keeps the local copy of a running session. Save is called
// with the session lock held.
type Checkpointer interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, docID string) (*Session, error)
	Clear(ctx context.Context, docID string) error
}

// BlobCheckpointer stores sessions as JSON blobs under checkpoints/.
type BlobCheckpointer struct {
	bs storage.BlobStore
}

func NewBlobCheckpointer(bs storage.BlobStore) *BlobCheckpointer {
	return &BlobCheckpointer{bs: bs}
}

func checkpointKey(docID string) string { return "checkpoints/" + docID + ".json" }

func (c *BlobCheckpointer) Save(_ context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := c.bs.Put(checkpointKey(s.DocumentID), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (c *BlobCheckpointer) Load(_ context.Context, docID string) (*Session, error) {
	rc, err := c.bs.Get(checkpointKey(docID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var s Session
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", docID, err)
	}
	return &s, nil
}

func (c *BlobCheckpointer) Clear(_ context.Context, docID string) error {
	return c.bs.Delete(checkpointKey(docID))
}
