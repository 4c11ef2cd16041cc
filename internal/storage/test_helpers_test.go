package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

var errFakePersist = errors.New("simulated persist failure")

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return store
}
