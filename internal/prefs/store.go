package prefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

type Options struct {
	Catalog Catalog
	Logger  *zap.Logger
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Catalog == nil {
		o.Catalog = DefaultCatalog
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ClosableStore is a Store backed by an open file.
type ClosableStore interface {
	Store
	Reset(ctx context.Context) error
	Close() error
}

// Open selects a backend by name. The memory backend ignores path.
func Open(backend, path string, opts Options) (ClosableStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return OpenSQLite(path, opts)
	case BackendBolt:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return OpenBolt(path, opts)
	case BackendMemory:
		return NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown preferences backend %q", backend)
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in process memory. It still honours Retention
// so tests can exercise expiry with a fake clock.
type MemoryStore struct {
	opts Options

	mu        sync.Mutex
	raw       []byte
	expiresAt int64
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults()}
}

func (s *MemoryStore) Load(ctx context.Context) Preferences {
	s.mu.Lock()
	raw, expiresAt := s.raw, s.expiresAt
	s.mu.Unlock()

	if raw == nil || expired(expiresAt, s.opts.Now()) {
		return Defaults()
	}
	p, err := decode(raw, s.opts.Catalog)
	if err != nil {
		s.opts.Logger.Warn("falling back to default preferences", zap.Error(err))
		return Defaults()
	}
	return p
}

func (s *MemoryStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(s.opts.Catalog); err != nil {
		return err
	}
	raw, err := encode(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	s.expiresAt = s.opts.Now().Add(Retention).Unix()
	return nil
}

// Clear drops the record, as if storage had been wiped externally.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = nil
	s.expiresAt = 0
}

// SetRaw stores bytes verbatim. Used to simulate a damaged record.
func (s *MemoryStore) SetRaw(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append([]byte(nil), raw...)
	s.expiresAt = s.opts.Now().Add(Retention).Unix()
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.Clear()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
