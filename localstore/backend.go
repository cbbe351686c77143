package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"

	"github.com/sanket-mindstix/liota/errors"
)

// Backend persists records by cloud id. Load returns errors.ErrKeyNotFound
// when no record exists.
type Backend interface {
	Load(regID string) (Record, error)
	Save(regID string, rec Record) error
	Close() error
}

// FileBackend keeps one <regID>.json file per record in a directory.
type FileBackend struct {
	fs  afero.Fs
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(fs afero.Fs, dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.Configf("FileBackend", "New", "entity directory is empty")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrLocalStorage, err),
			"FileBackend", "New", "create "+dir)
	}
	return &FileBackend{fs: fs, dir: dir}, nil
}

func (b *FileBackend) path(regID string) (string, error) {
	name, err := fileName(regID, ".json")
	if err != nil {
		return "", err
	}
	return filepath.Join(b.dir, name), nil
}

// fileName returns regID+ext, rejecting ids that are not a single path
// element so a cloud-supplied id cannot name a file outside the directory.
func fileName(regID, ext string) (string, error) {
	if regID == "" || regID == "." || regID == ".." ||
		strings.ContainsAny(regID, `/\`) || filepath.Base(regID) != regID {
		return "", errors.WrapInvalid(fmt.Errorf("%w: reg id %q is not a file name", errors.ErrLocalStorage, regID),
			"localstore", "fileName", "check reg id")
	}
	return regID + ext, nil
}

// Load reads the record for regID.
func (b *FileBackend) Load(regID string) (Record, error) {
	path, err := b.path(regID)
	if err != nil {
		return Record{}, err
	}
	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, errors.ErrKeyNotFound
		}
		return Record{}, fmt.Errorf("%w: read %s: %w", errors.ErrLocalStorage, regID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s: %w", errors.ErrLocalStorage, regID, err)
	}
	return rec, nil
}

// Save replaces the record for regID.
func (b *FileBackend) Save(regID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", errors.ErrLocalStorage, regID, err)
	}
	path, err := b.path(regID)
	if err != nil {
		return err
	}
	if err := writeFile(b.fs, path, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", errors.ErrLocalStorage, regID, err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }

// BoltBackend keeps records in one bbolt bucket per DCC.
type BoltBackend struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltBackend opens or creates the database at path and the bucket.
func OpenBoltBackend(path, bucket string) (*BoltBackend, error) {
	if path == "" || bucket == "" {
		return nil, errors.Configf("BoltBackend", "Open", "database path and bucket are required")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrLocalStorage, err),
			"BoltBackend", "Open", "open "+path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrLocalStorage, err),
			"BoltBackend", "Open", "create bucket "+bucket)
	}
	return &BoltBackend{db: db, bucket: []byte(bucket)}, nil
}

// Load reads the record for regID.
func (b *BoltBackend) Load(regID string) (Record, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(b.bucket).Get([]byte(regID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("%w: read %s: %w", errors.ErrLocalStorage, regID, err)
	}
	if data == nil {
		return Record{}, errors.ErrKeyNotFound
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s: %w", errors.ErrLocalStorage, regID, err)
	}
	return rec, nil
}

// Save replaces the record for regID.
func (b *BoltBackend) Save(regID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", errors.ErrLocalStorage, regID, err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(regID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", errors.ErrLocalStorage, regID, err)
	}
	return nil
}

// Close closes the database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// writeFile replaces path through a temporary file so readers never see a
// partial document.
func writeFile(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
