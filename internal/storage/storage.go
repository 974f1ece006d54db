// Package storage keeps uploaded media on disk under generated names.
package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrNotFound        = errors.New("stored file not found")
)

// Store persists media bytes. Names are opaque keys chosen by Save.
type Store interface {
	Save(originalName string, r io.Reader) (name string, size int64, err error)
	Open(name string) (*os.File, error)
	Remove(name string) error
}

// LocalStore writes files into a single directory.
type LocalStore struct {
	dir      string
	maxBytes int64
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *LocalStore) MaxBytes() int64 { return s.maxBytes }

// Save copies r to a new uuid-named file keeping the original extension.
// A partial file is removed when the copy fails or exceeds the limit.
func (s *LocalStore) Save(originalName string, r io.Reader) (string, int64, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return name, n, nil
}

func (s *LocalStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, name), nil
}

func (s *LocalStore) Open(name string) (*os.File, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *LocalStore) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var allowedPrefixes = []string{"image/", "audio/", "video/"}

// DetectType returns the media type of an upload, preferring the declared
// header and falling back to the file extension. Only images, audio, video
// and PDF are accepted.
func DetectType(declared, filename string) (string, error) {
	mt := declared
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		mt = parsed
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			mt = parsed
		}
	}
	if mt == "application/pdf" {
		return mt, nil
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(mt, p) {
			return mt, nil
		}
	}
	return "", ErrUnsupportedType
}

// InlineSafe reports whether a stored type may be rendered inline. SVG and
// other XML documents can carry script, so they are downloaded instead.
func InlineSafe(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	if strings.Contains(mt, "svg") || strings.HasSuffix(mt, "+xml") || strings.HasSuffix(mt, "/xml") {
		return false
	}
	return true
}
