package lexical

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/adalundhe/loupe/core/corpus"
)

// DefaultBatchSize is the number of documents per indexing batch.
const DefaultBatchSize = 100

var (
	// ErrIndexClosed indicates an operation was attempted on a closed index.
	ErrIndexClosed = errors.New("lexical index is closed")

	// ErrNilSnapshot indicates IndexSnapshot was called without a snapshot.
	ErrNilSnapshot = errors.New("snapshot cannot be nil")
)

// Index wraps a Bleve index over corpus entities. A fresh in-memory index is
// built for each snapshot so queries against one epoch never observe another;
// the disk-backed form exists for the CLI's persistent index.
type Index struct {
	index     bleve.Index
	batchSize int
	mu        sync.RWMutex
	closed    bool
}

// NewMemoryIndex creates an in-memory index with the entity mapping. This is
// the form the engine builds per snapshot.
func NewMemoryIndex() (*Index, error) {
	indexMapping, err := BuildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}

	return &Index{index: idx, batchSize: DefaultBatchSize}, nil
}

// OpenIndex opens the index at path, creating it with the entity mapping when
// it does not exist yet.
func OpenIndex(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{index: idx, batchSize: DefaultBatchSize}, nil
	}

	indexMapping, err := BuildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}

	idx, err = bleve.New(path, indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create index at %s: %w", path, err)
	}

	return &Index{index: idx, batchSize: DefaultBatchSize}, nil
}

// IndexSnapshot indexes every entity in the snapshot in batches. It is called
// once per snapshot publish, before queries are admitted to the new epoch.
func (ix *Index) IndexSnapshot(ctx context.Context, snap *corpus.Snapshot) error {
	if snap == nil {
		return ErrNilSnapshot
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed || ix.index == nil {
		return ErrIndexClosed
	}

	batch := ix.index.NewBatch()
	var indexErr error

	snap.ForEachEntity(func(e *corpus.Entity) {
		if indexErr != nil {
			return
		}
		select {
		case <-ctx.Done():
			indexErr = ctx.Err()
			return
		default:
		}

		if err := batch.Index(e.ID, DocumentFromEntity(e)); err != nil {
			indexErr = fmt.Errorf("index entity %q: %w", e.ID, err)
			return
		}

		if batch.Size() >= ix.batchSize {
			if err := ix.index.Batch(batch); err != nil {
				indexErr = fmt.Errorf("commit batch: %w", err)
				return
			}
			batch = ix.index.NewBatch()
		}
	})

	if indexErr != nil {
		return indexErr
	}

	if batch.Size() > 0 {
		if err := ix.index.Batch(batch); err != nil {
			return fmt.Errorf("commit final batch: %w", err)
		}
	}

	return nil
}

// IndexEntity indexes or replaces a single entity document.
func (ix *Index) IndexEntity(ctx context.Context, e *corpus.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed || ix.index == nil {
		return ErrIndexClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := ix.index.Index(e.ID, DocumentFromEntity(e)); err != nil {
		return fmt.Errorf("index entity %q: %w", e.ID, err)
	}
	return nil
}

// SearchInContext executes a Bleve search request against the index.
func (ix *Index) SearchInContext(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed || ix.index == nil {
		return nil, ErrIndexClosed
	}

	return ix.index.SearchInContext(ctx, req)
}

// DocCount returns the number of indexed entity documents.
func (ix *Index) DocCount() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed || ix.index == nil {
		return 0, ErrIndexClosed
	}

	return ix.index.DocCount()
}

// Close flushes and closes the underlying index. Closing twice is a no-op.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed || ix.index == nil {
		return nil
	}

	ix.closed = true
	err := ix.index.Close()
	ix.index = nil
	return err
}
