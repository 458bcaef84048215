package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrAlreadyExists  = errors.New("object already exists")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Key prefixes for objects that are not yet, or no longer, attached to a file record.
const (
	StagingPrefix = ".staging/"
	TrashPrefix   = ".trash/"
)

// Store defines the interface for content storage backends. Keys are
// slash-separated paths such as "42/report.txt".
type Store interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (*Object, error)
	// Move renames src to dst. It fails with ErrAlreadyExists instead of
	// overwriting dst.
	Move(ctx context.Context, src, dst string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Object is an open handle on stored content. Callers must Close it.
type Object struct {
	io.ReadCloser
	Size    int64
	ModTime time.Time
}

// ObjectInfo describes a stored object without opening it.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ValidateKey rejects keys that are empty, absolute, or that contain "." or
// ".." segments.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// TempKey builds a staging or trash key under prefix that records when it
// was created. Cleanup ages such objects by this time, not by their
// modification time, which a move carries over from the original upload.
func TempKey(prefix string, at time.Time) string {
	return prefix + strconv.FormatInt(at.UnixNano(), 10) + "-" + uuid.NewString()
}

// tempKeyTime returns the creation time recorded by TempKey.
func tempKeyTime(key string) (time.Time, bool) {
	name := key[strings.LastIndexByte(key, '/')+1:]
	stamp, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
