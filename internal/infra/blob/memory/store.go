// Package memory keeps blobs in process memory. It backs the memory blob
// driver and tests, where artifacts only need to outlive a single run.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"derivcore/internal/blob/core"
)

// Store is a core.Store holding every object in a single mutex-guarded map.
// Reads hand out copies so callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

type object struct {
	data    []byte
	content string
	meta    map[string]string
	stored  time.Time
}

func (o object) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.content,
		Metadata:     maps.Clone(o.meta),
		LastModified: o.stored,
	}
}

// New returns an empty in-memory blob store.
func New() *Store { return &Store{objects: make(map[string]object)} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores an immutable blob; existing keys are rejected.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.objects[key]; taken {
		return core.Info{}, fmt.Errorf("blob %s already exists", key)
	}
	obj := object{
		data:    data,
		content: opts.ContentType,
		meta:    maps.Clone(opts.Metadata),
		stored:  time.Now().UTC(),
	}
	s.objects[key] = obj
	return obj.info(key), nil
}

// Get returns blob metadata and a reader over a copy of its content.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, nil, fmt.Errorf("blob %s not found", key)
	}
	return obj.info(key), io.NopCloser(bytes.NewReader(slices.Clone(obj.data))), nil
}

// Head returns blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("blob %s not found", key)
	}
	return obj.info(key), nil
}

// Delete removes the blob, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// List returns blobs under prefix in key order.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	infos := make([]core.Info, len(keys))
	for i, key := range keys {
		infos[i] = s.objects[key].info(key)
	}
	return infos, nil
}

// PresignURL is not meaningful for an in-process store.
func (s *Store) PresignURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
