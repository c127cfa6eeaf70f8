package retrystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
)

const tempPrefix = ".tmp-"

// FileStore keeps one file per item in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("retry store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errspkg.PersistenceError{Op: "open", Err: err}
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) PutMessage(_ context.Context, env *envelope.Envelope, node, service string) (string, error) {
	key := newMessageKey()
	data, err := encodeMessage(env, node, service)
	if err != nil {
		return "", &errspkg.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	return key, s.write(key, data)
}

func (s *FileStore) PutTracking(_ context.Context, rec envelope.TrackingRecord) (string, error) {
	key := newTrackingKey(rec.InterchangeID)
	data, err := encodeTracking(rec)
	if err != nil {
		return "", &errspkg.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	return key, s.write(key, data)
}

// Keys returns the file names in lexical order, which is creation order for
// ULID keys.
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errspkg.PersistenceError{Op: "list", Err: err}
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

func (s *FileStore) Load(_ context.Context, key string) (Item, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return Item{}, &errspkg.PersistenceError{Op: "load", Key: key, Err: err}
	}
	return decodeItem(key, kindOf(key), data)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &errspkg.PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

func (s *FileStore) write(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return &errspkg.PersistenceError{Op: "write", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &errspkg.PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &errspkg.PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return &errspkg.PersistenceError{Op: "write", Key: key, Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}
