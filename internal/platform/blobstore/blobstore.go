// Package blobstore provides storage for batch artifacts. It defines the
// BlobStore interface, an in-memory implementation suitable for development
// and tests, and an S3-compatible implementation for production.
package blobstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobInfo describes a stored artifact.
type BlobInfo struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is the contract for artifact storage backends. Artifacts are
// write-once: Put with an existing key overwrites, but callers derive unique
// keys so that never happens in practice.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (*BlobInfo, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type storedBlob struct {
	info BlobInfo
	data []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
	}
}

func (s *InMemoryBlobStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[key] = &storedBlob{
		info: BlobInfo{
			Key:         key,
			ContentType: contentType,
			Size:        int64(len(buf)),
			CreatedAt:   time.Now().UTC(),
		},
		data: buf,
	}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}

	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, nil
}

func (s *InMemoryBlobStore) Head(_ context.Context, key string) (*BlobInfo, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}

	info := blob.info // copy
	return &info, nil
}

func (s *InMemoryBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
