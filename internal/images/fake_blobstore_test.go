package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/blobstore"
)

// fakeBlobStore is an in-memory blobstore.Store for tests that don't
// want to exercise the real S3 adapter.
type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data io.Reader, _ blobstore.PutOptions) (string, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.data[key] = buf
	f.mu.Unlock()
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeBlobStore) PresignPut(_ context.Context, key string, _ time.Duration) (string, string, error) {
	return "https://blobs.test/put/" + key, "https://blobs.test/" + key, nil
}
