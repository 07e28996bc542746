// Package source gives ingestion read access to source documents kept on a
// filesystem, in object storage, or in memory.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MaxDocumentBytes bounds a single document read.
const MaxDocumentBytes int64 = 64 << 20

// ErrTooLarge is returned for documents above MaxDocumentBytes.
var ErrTooLarge = errors.New("document exceeds size limit")

// Dir serves documents below a root directory. Paths are slash-separated
// and relative to the root.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root, which must be a directory.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// List walks the tree and returns regular files, skipping hidden entries.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != d.root && strings.HasPrefix(e.Name(), ".") {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: list %s: %w", d.root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Read returns the bytes of p. ".." cannot climb above the root.
func (d *Dir) Read(_ context.Context, p string) ([]byte, error) {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer f.Close()
	return readLimited(f, p)
}

func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", name, err)
	}
	if int64(len(data)) > MaxDocumentBytes {
		return nil, fmt.Errorf("source: %s: %w", name, ErrTooLarge)
	}
	return data, nil
}

// Memory is an in-process source, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns a Memory holding docs.
func NewMemory(docs map[string][]byte) *Memory {
	m := &Memory{docs: make(map[string][]byte, len(docs))}
	for k, v := range docs {
		m.docs[k] = v
	}
	return m
}

// Put adds or replaces a document.
func (m *Memory) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[p] = data
}

// Remove deletes a document.
func (m *Memory) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, p)
}

func (m *Memory) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for k := range m.docs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Read(_ context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[p]
	if !ok {
		return nil, fmt.Errorf("source: %s: %w", p, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}
