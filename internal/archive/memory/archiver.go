// Package memory stores archived responses in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archiver keeps raw response bodies in a map and returns pseudo URIs.
type Archiver struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory Archiver.
func New() *Archiver {
	return &Archiver{data: make(map[string][]byte)}
}

// Archive persists the body and returns a memory:// URI.
func (a *Archiver) Archive(_ context.Context, path string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored body, for test assertions.
func (a *Archiver) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	return data, ok
}
