package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/observability/metrics"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

var ErrNotFound = errors.New("entry not found")

type Cloner[V any] interface {
	Clone() V
}

type writeFunc func(path string, data []byte, perm os.FileMode) error

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// Snapshot is an int-keyed map mirrored wholesale to a single JSON file.
// Every mutation is persisted before it returns; a mutation whose write
// fails is rolled back so readers never observe it.
type Snapshot[V Cloner[V]] struct {
	entries map[int]V
	write   writeFunc
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	path    string
	name    string
	mu      sync.Mutex
}

type Option func(*options)

type options struct {
	write   writeFunc
	metrics *metrics.Metrics
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func withWriter(w writeFunc) Option {
	return func(o *options) { o.write = w }
}

// Open loads the snapshot at path. A missing file yields an empty map which
// is written out immediately; any other read or decode failure is returned.
func Open[V Cloner[V]](name, path string, opts ...Option) (*Snapshot[V], error) {
	o := options{write: atomicWrite}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Snapshot[V]{
		entries: make(map[int]V),
		write:   o.write,
		metrics: o.metrics,
		log:     zap.S().Named("store").With("store", name),
		path:    path,
		name:    name,
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, fmt.Errorf("create %s snapshot dir: %w", name, err)
		}
		if err := s.persist(); err != nil {
			return nil, fmt.Errorf("create %s snapshot: %w", name, err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s snapshot: %w", name, err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.entries); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", name, err)
	}
	if s.entries == nil {
		s.entries = make(map[int]V)
	}
	return s, nil
}

// Get returns a copy of the value stored under id.
func (s *Snapshot[V]) Get(id int) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	return v.Clone(), true
}

func (s *Snapshot[V]) Has(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Snapshot[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Snapshot[V]) Keys() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

func (s *Snapshot[V]) Put(id int, v V) error {
	return s.mutate(func(m map[int]V) error {
		m[id] = v.Clone()
		return nil
	})
}

func (s *Snapshot[V]) Remove(id int) error {
	return s.mutate(func(m map[int]V) error {
		delete(m, id)
		return nil
	})
}

// Update applies fn to a copy of the entry under id and stores the result.
func (s *Snapshot[V]) Update(id int, fn func(V) (V, error)) error {
	return s.mutate(func(m map[int]V) error {
		cur, ok := m[id]
		if !ok {
			return ErrNotFound
		}
		next, err := fn(cur.Clone())
		if err != nil {
			return err
		}
		m[id] = next
		return nil
	})
}

func (s *Snapshot[V]) mutate(fn func(map[int]V) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cloneEntries()
	if err := fn(s.entries); err != nil {
		s.entries = prev
		return err
	}

	if err := s.persist(); err != nil {
		s.entries = prev
		s.metrics.RecordSnapshotFailure(s.name)
		s.log.Warnw("snapshot write failed, rolled back", "err", err)
		return fmt.Errorf("persist %s snapshot: %w", s.name, err)
	}
	return nil
}

func (s *Snapshot[V]) cloneEntries() map[int]V {
	out := make(map[int]V, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Clone()
	}
	return out
}

func (s *Snapshot[V]) persist() error {
	b, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.write(s.path, b, filePerm)
}
