package localstore

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/cache"
	"github.com/sanket-mindstix/liota/pkg/timestamp"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSideFiles writes edge system and device documents under dir on fs.
func WithSideFiles(fs afero.Fs, dir string) Option {
	return func(s *Store) {
		s.fs = fs
		s.sideDir = dir
	}
}

// WithMetrics records cache writes labelled with the DCC name.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithRecordCache keeps recently used records in memory. The backend stays
// authoritative: every Update writes through.
func WithRecordCache(c *cache.LRU[Record]) Option {
	return func(s *Store) {
		s.records = c
	}
}

// WithClock overrides the clock used for last-seen stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store serializes every read-modify-write of one DCC's records. Storage
// failures are logged and reported through Update's bool result; they never
// reach telemetry callers as errors.
type Store struct {
	dcc     string
	backend Backend
	fs      afero.Fs
	sideDir string
	logger  *slog.Logger
	metrics *metric.Metrics
	records *cache.LRU[Record]
	now     func() time.Time

	mu sync.Mutex
}

// New creates a store for the named DCC.
func New(dcc string, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.Configf("Store", "New", "backend is nil")
	}

	s := &Store{
		dcc:     dcc,
		backend: backend,
		logger:  slog.Default(),
		now:     timestamp.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "localstore", "dcc", dcc)

	if s.fs != nil && s.sideDir != "" {
		if err := s.fs.MkdirAll(s.sideDir, 0o755); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrLocalStorage, err),
				"Store", "New", "create "+s.sideDir)
		}
	}
	return s, nil
}

// Update applies update to the record for regID using the merge rule and
// regenerates the side file. Reserved keys in update.Properties are ignored.
// It returns the stored record and false if anything could not be persisted.
func (s *Store) Update(regID string, update Record) (Record, bool) {
	update.Properties = withoutReserved(update.Properties)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(regID)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrKeyNotFound):
		current = Record{}
	default:
		// unreadable records are rebuilt from this update
		s.logger.Warn("cache record unreadable, replacing", "reg_id", regID, "error", err)
		current = Record{}
	}

	merged := current.Merge(update)
	if !current.SameEntity(update) && current.Name != "" {
		s.logger.Info("cache identity changed, discarding properties",
			"reg_id", regID,
			"old_name", current.Name, "new_name", update.Name,
			"old_device_type", current.DeviceType, "new_device_type", update.DeviceType)
	}

	if err := s.backend.Save(regID, merged); err != nil {
		s.forget(regID)
		s.fail(regID, err)
		return merged, false
	}
	s.remember(regID, merged)

	if err := s.writeSideFile(regID, merged); err != nil {
		s.fail(regID, err)
		return merged, false
	}

	s.metrics.RecordCacheWrite(s.dcc, nil)
	return merged, true
}

// Get returns the record for regID.
func (s *Store) Get(regID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(regID)
}

// load must be called with mu held.
func (s *Store) load(regID string) (Record, error) {
	if s.records != nil {
		if rec, ok := s.records.Get(regID); ok {
			return rec.clone(), nil
		}
	}
	rec, err := s.backend.Load(regID)
	if err != nil {
		return Record{}, err
	}
	s.remember(regID, rec)
	return rec, nil
}

func (s *Store) remember(regID string, rec Record) {
	if s.records != nil {
		_, _ = s.records.Set(regID, rec.clone())
	}
}

func (s *Store) forget(regID string) {
	if s.records != nil {
		s.records.Delete(regID)
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) fail(regID string, err error) {
	if !errors.Is(err, errors.ErrLocalStorage) {
		err = fmt.Errorf("%w: %w", errors.ErrLocalStorage, err)
	}
	s.logger.Error("cache update failed", "reg_id", regID, "error", err)
	s.metrics.RecordCacheWrite(s.dcc, err)
}

func (s *Store) writeSideFile(regID string, rec Record) error {
	if s.fs == nil || s.sideDir == "" {
		return nil
	}
	path, err := sideFilePath(s.sideDir, regID, rec.EntityType)
	if err != nil || path == "" {
		return err
	}

	lastSeen := timestamp.LastSeen(s.now())
	var data []byte
	switch rec.EntityType {
	case EntityEdgeSystem:
		data, err = edgeSystemDocument(rec, lastSeen)
	case EntityDevice:
		data, err = deviceDocument(rec, lastSeen)
	}
	if err != nil {
		return fmt.Errorf("%w: render %s: %w", errors.ErrLocalStorage, path, err)
	}
	if err := writeFile(s.fs, path, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", errors.ErrLocalStorage, path, err)
	}
	return nil
}

func withoutReserved(props map[string]string) map[string]string {
	out := maps.Clone(props)
	for k := range out {
		if isReserved(k) {
			delete(out, k)
		}
	}
	return out
}
