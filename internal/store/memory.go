package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// StoredObject is an object held by a MemoryStore.
type StoredObject struct {
	Key          string
	Data         []byte
	ContentType  string
	StorageClass StorageClass
}

// MemoryStore is an in-process BucketStore. It backs the "memory" storage
// backend used for local runs and is safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	objects       map[string]StoredObject
	bucketCreated bool
	existsCalls   int
}

// NewMemoryStore creates an empty store whose bucket already exists.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]StoredObject), bucketCreated: true}
}

// Exists reports whether key is present.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	_, ok := m.objects[key]
	return ok, nil
}

// Write stores obj, replacing any previous object under the key.
func (m *MemoryStore) Write(_ context.Context, obj Object) error {
	data, err := readBody(obj)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key] = StoredObject{Key: obj.Key, Data: data, ContentType: obj.ContentType, StorageClass: obj.StorageClass}
	return nil
}

// WriteIfAbsent stores obj unless the key is taken.
func (m *MemoryStore) WriteIfAbsent(_ context.Context, obj Object) error {
	data, err := readBody(obj)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.Key]; ok {
		return &StoreError{Op: "put_object_if_absent", Key: obj.Key, Type: ErrorTypeConflict, Err: ErrKeyExists}
	}
	m.objects[obj.Key] = StoredObject{Key: obj.Key, Data: data, ContentType: obj.ContentType, StorageClass: obj.StorageClass}
	return nil
}

// BucketExists reports whether the bucket exists.
func (m *MemoryStore) BucketExists(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bucketCreated, nil
}

// CreateBucket marks the bucket as existing.
func (m *MemoryStore) CreateBucket(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketCreated = true
	return nil
}

// CheckCredentials always succeeds.
func (m *MemoryStore) CheckCredentials(context.Context) error { return nil }

// Get returns the object stored under key.
func (m *MemoryStore) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns every stored key in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put seeds an object directly.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = StoredObject{Key: key, Data: data}
}

// ExistsCalls returns how many existence probes were made.
func (m *MemoryStore) ExistsCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existsCalls
}

func readBody(obj Object) ([]byte, error) {
	if obj.Body == nil {
		return nil, nil
	}
	if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}
