package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FileStore keeps one file per blob under <root>/<namespace>/<key>.
// Freshness comes from the file modification time.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the file path for a blob.
func (s *FileStore) Path(namespace, key string) string {
	parts := []string{s.root}
	for _, seg := range strings.Split(namespace, "/") {
		parts = append(parts, sanitizeSegment(seg))
	}
	parts = append(parts, sanitizeSegment(key))
	return filepath.Join(parts...)
}

func (s *FileStore) Read(namespace, key string) ([]byte, time.Time, error) {
	path := s.Path(namespace, key)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", path, err)
	}
	return data, info.ModTime(), nil
}

func (s *FileStore) Write(namespace, key string, data []byte) error {
	return atomicWriteFile(s.Path(namespace, key), data, 0o644)
}

func (s *FileStore) Delete(namespace, key string) error {
	err := os.Remove(s.Path(namespace, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

var (
	invalidChars           = []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\x00"}
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

// sanitizeSegment makes one path segment safe: NFC-normalised so that the
// same key typed on different platforms maps to one file, with separator
// and reserved characters replaced by underscores. A leading dot is kept
// so the index name ".list" survives.
func sanitizeSegment(seg string) string {
	result := norm.NFC.String(seg)
	for _, ch := range invalidChars {
		result = strings.ReplaceAll(result, ch, "_")
	}
	result = consecutiveUnderscores.ReplaceAllString(result, "_")
	result = strings.Trim(result, " ")

	switch result {
	case "", ".", "..":
		return "_" + strings.ReplaceAll(result, ".", "dot")
	}
	return result
}

// atomicWriteFile writes to a temp file next to path, syncs, renames over path, then
// syncs the parent directory on a best-effort basis.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// Unique temp names keep concurrent writers of one key apart.
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
