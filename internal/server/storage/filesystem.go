package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileSystemStore stores file content on a local (or in-memory) filesystem.
type FileSystemStore struct {
	fs afero.Fs
}

// NewFileSystemStore creates a filesystem store rooted at basePath. Keys can
// never resolve outside of it.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return NewFileSystemStoreFs(afero.NewBasePathFs(afero.NewOsFs(), basePath))
}

// NewFileSystemStoreFs creates a store on top of an arbitrary afero filesystem.
func NewFileSystemStoreFs(fsys afero.Fs) *FileSystemStore {
	return &FileSystemStore{fs: fsys}
}

// Init creates the storage root if it doesn't exist.
func (s *FileSystemStore) Init(ctx context.Context) error {
	if err := s.fs.MkdirAll(string(filepath.Separator), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Put writes data to key, creating parent directories as needed.
// Returns the number of bytes written.
func (s *FileSystemStore) Put(ctx context.Context, key string, data io.Reader) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	file, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create object %s: %w", key, err)
	}

	n, err := io.Copy(file, contextReader{ctx: ctx, r: data})
	if err == nil {
		err = file.Close()
	} else {
		file.Close()
	}
	if err != nil {
		// Clean up partial file on error
		s.fs.Remove(p)
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return n, nil
}

// Open opens key for reading.
func (s *FileSystemStore) Open(ctx context.Context, key string) (*Object, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	file, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, ErrObjectNotFound
	}

	return &Object{ReadCloser: file, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Move renames src to dst without overwriting an existing dst.
func (s *FileSystemStore) Move(ctx context.Context, src, dst string) error {
	srcPath, err := s.path(src)
	if err != nil {
		return err
	}
	dstPath, err := s.path(dst)
	if err != nil {
		return err
	}

	if _, err := s.fs.Stat(srcPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to stat object %s: %w", src, err)
	}
	if _, err := s.fs.Stat(dstPath); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat object %s: %w", dst, err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := s.fs.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes the object stored under key.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List returns every object whose key starts with prefix. prefix must name a
// directory ("42/", ".trash/") or be empty for the whole store.
func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := string(filepath.Separator)
	if dir := strings.TrimSuffix(prefix, "/"); dir != "" {
		p, err := s.path(dir)
		if err != nil {
			return nil, err
		}
		root = p
	}

	var objects []ObjectInfo
	err := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:     keyFor(p),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}
	return objects, nil
}

// path maps a key to a rooted path inside the store's filesystem.
func (s *FileSystemStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(string(filepath.Separator), filepath.FromSlash(key)), nil
}

func keyFor(p string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/")
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
