package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// Content bodies and the identity map are stored as single values, so the
// bitcask defaults (64 byte keys, 64 KiB values) are too small.
const (
	maxKeySize   uint32 = 512
	maxValueSize uint64 = 64 << 20
)

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db           *bitcask.Bitcask
	path         string
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path,
		bitcask.WithMaxKeySize(maxKeySize),
		bitcask.WithMaxValueSize(maxValueSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Debugf("Database opened at %s", path)
	return &DB{db: dbInstance, path: path}, nil
}

// Path returns the directory the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	log.Debug("Closing database...")
	d.Lock()
	defer d.Unlock()
	if err := d.db.Sync(); err != nil {
		log.WithError(err).Warn("Database sync before close failed")
	}
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database. Deleting a missing key returns ErrNotFound.
func (d *DB) Delete(key []byte) error {
	if !d.Has(key) {
		return ErrNotFound
	}
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// GetJSON reads key and decodes it into v.
func (d *DB) GetJSON(key string, v any) error {
	raw, err := d.Get([]byte(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("error decoding value for key %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func (d *DB) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding value for key %s: %w", key, err)
	}
	return d.Put([]byte(key), raw)
}

// NextSequence increments and returns the named counter. Counters start at 1.
func (d *DB) NextSequence(name string) (int64, error) {
	key := []byte("seq_" + name)
	var current int64
	raw, err := d.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, err
	default:
		current, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing sequence %s value %q: %w", name, string(raw), err)
		}
	}
	next := current + 1
	if err := d.Put(key, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// Fold iterates over all key-value pairs, decompresses the value,
// and calls the provided function.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Fold(func(key []byte) error {
		return d.visit(key, fn)
	})
}

// Scan is Fold restricted to keys starting with prefix.
func (d *DB) Scan(prefix string, fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Scan([]byte(prefix), func(key []byte) error {
		return d.visit(key, fn)
	})
}

// visit must be called with the read lock held.
func (d *DB) visit(key []byte, fn func(key []byte, value []byte) error) error {
	rawValue, err := d.db.Get(key)
	if err != nil {
		log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
		return nil
	}
	value, err := decompressIfGzipped(rawValue)
	if err != nil {
		log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
		return nil
	}
	return fn(key, value)
}

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		gReader, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}
	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}
