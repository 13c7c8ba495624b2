package kv

import (
	"bytes"
	"encoding/gob"
	"sort"
	"sync"
)

// StorageEngine is the ordered-map store the state machine drives.
// Concrete engines (skip list, B-tree) live outside this repository;
// the in-memory engine below is the default and the test double.
type StorageEngine interface {
	Get(key string) (string, bool)
	Put(key, value string)
	// Append concatenates value to the current value, inserting when
	// the key is absent.
	Append(key, value string)
	Delete(key string)
	// Keys returns all keys in ascending order.
	Keys() []string
	Len() int
	Serialize() ([]byte, error)
	Restore(data []byte) error
}

// MemoryEngine is a mutex-guarded map engine.
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryEngine returns an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string]string)}
}

func (e *MemoryEngine) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	return v, ok
}

func (e *MemoryEngine) Put(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[key] = value
}

func (e *MemoryEngine) Append(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[key] += value
}

func (e *MemoryEngine) Delete(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.data, key)
}

func (e *MemoryEngine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *MemoryEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}

func (e *MemoryEngine) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MemoryEngine) Restore(data []byte) error {
	var m map[string]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = m
	return nil
}
