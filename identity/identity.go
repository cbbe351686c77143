// Package identity persists the cloud identity of the edge system so a
// restarted gateway resumes under the same id.
//
// Two stores are provided: FileStore keeps a small YAML document on local
// disk, and KVStore keeps the record in a NATS JetStream key-value bucket for
// gateways that already run on NATS.
package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/natsclient"
)

// Identity is the edge system name and the id a DCC assigned to it.
type Identity struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

// Store reads the identity at startup and rewrites it after every
// successful edge system registration. Load returns errors.ErrKeyNotFound
// when nothing has been stored yet.
type Store interface {
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
}

// FileStore keeps the identity in a YAML file.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.Configf("FileStore", "New", "identity path is empty")
	}
	return &FileStore{fs: fs, path: path}, nil
}

// Load reads the identity file.
func (s *FileStore) Load(_ context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, errors.ErrKeyNotFound
		}
		return Identity{}, errors.WrapTransient(err, "FileStore", "Load", "read "+s.path)
	}

	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return Identity{}, errors.WrapInvalid(err, "FileStore", "Load", "decode "+s.path)
	}
	return id, nil
}

// Save rewrites the identity file.
func (s *FileStore) Save(_ context.Context, id Identity) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return errors.WrapInvalid(err, "FileStore", "Save", "encode identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "create directory")
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "write "+tmp)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "rename "+tmp)
	}
	return nil
}

// KeyValue is the subset of natsclient.KVStore used by KVStore.
type KeyValue interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVStore keeps the identity under one key of a key-value bucket.
type KVStore struct {
	kv  KeyValue
	key string
}

// NewKVStore stores the identity under key, which defaults to "edge_system".
func NewKVStore(kv KeyValue, key string) (*KVStore, error) {
	if kv == nil {
		return nil, errors.Configf("KVStore", "New", "key-value store is nil")
	}
	if key == "" {
		key = "edge_system"
	}
	return &KVStore{kv: kv, key: key}, nil
}

// Load reads the identity.
func (s *KVStore) Load(ctx context.Context) (Identity, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Identity{}, errors.ErrKeyNotFound
		}
		return Identity{}, errors.WrapTransient(err, "KVStore", "Load", "get "+s.key)
	}

	var id Identity
	if err := yaml.Unmarshal(entry.Value, &id); err != nil {
		return Identity{}, errors.WrapInvalid(err, "KVStore", "Load", "decode "+s.key)
	}
	return id, nil
}

// Save writes the identity.
func (s *KVStore) Save(ctx context.Context, id Identity) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Save", "encode identity")
	}
	if _, err := s.kv.Put(ctx, s.key, data); err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "put "+s.key)
	}
	return nil
}

// Resume returns the stored identity when its name matches name. ok is false
// when nothing is stored, the name differs, or the store cannot be read.
func Resume(ctx context.Context, store Store, name string) (id Identity, ok bool, err error) {
	if store == nil {
		return Identity{}, false, nil
	}
	id, err = store.Load(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	if id.Name != name || id.ID == "" {
		return id, false, nil
	}
	return id, true, nil
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return fmt.Sprintf("%s(%s)", id.Name, id.ID)
}
