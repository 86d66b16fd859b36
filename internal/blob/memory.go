package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memoryEntry struct {
	info Info
	data []byte
}

// Memory keeps blobs in process memory. Used by tests and local runs.
type Memory struct {
	baseURL string
	mu      sync.RWMutex
	objs    map[string]memoryEntry
}

// NewMemory returns an in-memory store whose URLs are rooted at baseURL, or
// use a memory:// scheme when baseURL is empty.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &Memory{baseURL: baseURL, objs: make(map[string]memoryEntry)}
}

func (s *Memory) Driver() Driver { return DriverMemory }

func (s *Memory) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	info := Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
		URL:          publicURL(s.baseURL, key),
	}
	s.objs[key] = memoryEntry{info: info, data: b}
	return info, nil
}

func (s *Memory) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Memory) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; !ok {
		return false, nil
	}
	delete(s.objs, key)
	return true, nil
}

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
