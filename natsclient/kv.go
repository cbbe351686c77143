package natsclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sanket-mindstix/liota/errors"
)

// KVEntry is one value and the revision it was stored at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithKVTimeout bounds each operation. Zero leaves the caller's deadline alone.
func WithKVTimeout(d time.Duration) KVOption {
	return func(kv *KVStore) {
		kv.timeout = d
	}
}

// KVStore wraps one JetStream bucket holding small gateway records.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  Logger
}

// NewKVStore wraps bucket. Operations time out after 5s by default.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...KVOption) *KVStore {
	kv := &KVStore{
		bucket:  bucket,
		timeout: 5 * time.Second,
		logger:  c.logger,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.timeout > 0 {
		return context.WithTimeout(ctx, kv.timeout)
	}
	return ctx, func() {}
}

// Get returns the entry for key, or an error matching errors.ErrKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, fmt.Errorf("kv get %s: %w", key, errors.ErrKeyNotFound)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put stores value under key, last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	if kv.logger != nil {
		kv.logger.Debugf("KV Put: key=%s, revision=%d", key, rev)
	}
	return rev, nil
}

// Create stores value only when key is absent. An existing key fails with
// ErrKVKeyExists.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, errors.WrapTransient(err, "KVStore", "Create", "create "+key)
	}
	return rev, nil
}

// Delete removes key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return fmt.Errorf("kv delete %s: %w", key, errors.ErrKeyNotFound)
		}
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+key)
	}
	return nil
}

// IsKVNotFoundError reports whether err means the key is absent or deleted.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	// raw server error: "key not found" (10037)
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether err means the key exists or the
// revision moved.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyExists) || errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}

// ErrKVKeyExists is returned by Create for a key that is already stored.
var ErrKVKeyExists = errors.New("kv: key already exists")
