package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/storage"
)

const maxCommentLength = 1000

// FileService contains the business logic for stored files and share links.
type FileService struct {
	repo  FileRepository
	store storage.Store
	cfg   *config.Config
	now   func() time.Time
}

// NewFileService creates a new file service.
func NewFileService(repo FileRepository, store storage.Store, cfg *config.Config, opts ...Option) *FileService {
	o := buildOptions(opts)
	return &FileService{
		repo:  repo,
		store: store,
		cfg:   cfg,
		now:   o.now,
	}
}

// Upload stores data as a new file of ownerID. The content is staged first
// and moved to its final key inside the metadata transaction, so a failure on
// either side leaves neither a record without content nor stray content.
func (s *FileService) Upload(ctx context.Context, ownerID int64, filename, comment string, data io.Reader) (*database.FileRecord, error) {
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, validationError("comment must be at most %d characters", maxCommentLength)
	}
	if _, err := s.repo.GetUserByID(ctx, ownerID); err != nil {
		return nil, mapRepoError(err)
	}

	displayName := database.SanitizeName(filename)
	stagingKey := storage.TempKey(storage.StagingPrefix, s.now())

	// Read one byte past the limit so oversized bodies are detectable.
	size, err := s.store.Put(ctx, stagingKey, io.LimitReader(data, s.cfg.MaxFileSize+1))
	if err != nil {
		s.store.Delete(context.WithoutCancel(ctx), stagingKey)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if size > s.cfg.MaxFileSize {
		s.store.Delete(ctx, stagingKey)
		return nil, ErrFileTooLarge
	}

	rec := &database.FileRecord{
		OwnerID:      ownerID,
		OriginalName: displayName,
		StoredName:   database.StoredNameFor(displayName),
		Comment:      comment,
		Size:         size,
		UploadedAt:   s.now().UTC(),
	}

	var placed bool
	err = s.repo.CreateFile(ctx, rec, func(f *database.FileRecord) error {
		if err := s.moveClaimingKey(ctx, stagingKey, f.ContentKey()); err != nil {
			return err
		}
		placed = true
		return nil
	})
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if placed {
			s.store.Delete(cleanup, rec.ContentKey())
		} else {
			s.store.Delete(cleanup, stagingKey)
		}
		return nil, fmt.Errorf("failed to create file record: %w", mapRepoError(err))
	}

	slog.Info("file uploaded",
		"file_id", rec.ID,
		"owner_id", ownerID,
		"stored_name", rec.StoredName,
		"size", size,
	)
	return rec, nil
}

// ListFiles returns the files of ownerID. Expired share tokens are cleared first.
func (s *FileService) ListFiles(ctx context.Context, ownerID int64) ([]*database.FileRecord, error) {
	if _, err := s.repo.GetUserByID(ctx, ownerID); err != nil {
		return nil, mapRepoError(err)
	}
	s.sweep(ctx)

	files, err := s.repo.ListFilesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// RenameFile changes the display name of a file and moves its content to the
// matching stored name. A name that is already taken by another file of the
// same owner fails with ErrConflict and leaves the file unchanged.
func (s *FileService) RenameFile(ctx context.Context, ownerID, fileID int64, newName string) (*database.FileRecord, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, validationError("name is required")
	}
	if _, err := s.ownedFile(ctx, ownerID, fileID); err != nil {
		return nil, err
	}

	displayName := database.SanitizeName(newName)
	storedName := database.StoredNameFor(displayName)

	var moved *[2]string
	after, err := s.repo.RenameFile(ctx, fileID, displayName, storedName, func(before, after *database.FileRecord) error {
		src, dst := before.ContentKey(), after.ContentKey()
		if src == dst {
			return nil
		}
		if err := s.moveClaimingKey(ctx, src, dst); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				slog.Error("file content missing on rename", "file_id", fileID, "key", src)
				return ErrContentMissing
			}
			return err
		}
		moved = &[2]string{src, dst}
		return nil
	})
	if err != nil {
		if moved != nil {
			if rerr := s.store.Move(context.WithoutCancel(ctx), moved[1], moved[0]); rerr != nil {
				slog.Error("failed to revert content move",
					"file_id", fileID, "from", moved[1], "to", moved[0], "error", rerr)
			}
		}
		return nil, mapRepoError(err)
	}

	slog.Info("file renamed", "file_id", fileID, "stored_name", after.StoredName)
	return after, nil
}

// DeleteFile removes a file record and its content.
func (s *FileService) DeleteFile(ctx context.Context, ownerID, fileID int64) error {
	if _, err := s.ownedFile(ctx, ownerID, fileID); err != nil {
		return err
	}

	var trash *trashedObject
	err := s.repo.DeleteFile(ctx, fileID, func(f *database.FileRecord) error {
		t, err := trashContent(ctx, s.store, f, s.now())
		trash = t
		return err
	})
	if err != nil {
		restoreContent(ctx, s.store, trash)
		return mapRepoError(err)
	}
	purgeContent(ctx, s.store, trash)

	slog.Info("file deleted", "file_id", fileID, "owner_id", ownerID)
	return nil
}

// SweepExpiredTokens clears every expired share token.
func (s *FileService) SweepExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.repo.SweepExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	if n > 0 {
		slog.Info("expired share tokens cleared", "count", n)
	}
	return n, nil
}

// GetStats returns aggregate server statistics.
func (s *FileService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx, s.now())
}

// sweep runs an opportunistic sweep; failures are logged, not returned.
func (s *FileService) sweep(ctx context.Context) {
	if _, err := s.SweepExpiredTokens(ctx); err != nil {
		slog.Warn("opportunistic token sweep failed", "error", err)
	}
}

// ownedFile loads a file and hides it unless it belongs to ownerID.
func (s *FileService) ownedFile(ctx context.Context, ownerID, fileID int64) (*database.FileRecord, error) {
	f, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if f.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return f, nil
}

// moveClaimingKey moves src to dst. It runs while the repository holds the
// owner lock and dst is free in the metadata, so an object already at dst is
// an orphan from an earlier crash and gets replaced.
func (s *FileService) moveClaimingKey(ctx context.Context, src, dst string) error {
	err := s.store.Move(ctx, src, dst)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	slog.Warn("replacing orphaned content", "key", dst)
	if err := s.store.Delete(ctx, dst); err != nil {
		return err
	}
	return s.store.Move(ctx, src, dst)
}

type trashedObject struct {
	key      string
	trashKey string
}

// trashContent moves a record's content aside. Missing content is logged and
// tolerated so the record can still be removed.
func trashContent(ctx context.Context, store storage.Store, f *database.FileRecord, now time.Time) (*trashedObject, error) {
	t := &trashedObject{key: f.ContentKey(), trashKey: storage.TempKey(storage.TrashPrefix, now)}
	err := store.Move(ctx, t.key, t.trashKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		slog.Error("file content missing on delete", "file_id", f.ID, "key", t.key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to move content to trash: %w", err)
	}
	return t, nil
}

func restoreContent(ctx context.Context, store storage.Store, t *trashedObject) {
	if t == nil {
		return
	}
	if err := store.Move(context.WithoutCancel(ctx), t.trashKey, t.key); err != nil {
		slog.Error("failed to restore content from trash", "key", t.key, "trash_key", t.trashKey, "error", err)
	}
}

func purgeContent(ctx context.Context, store storage.Store, t *trashedObject) {
	if t == nil {
		return
	}
	// A failed purge leaves the object for the cleanup service.
	if err := store.Delete(context.WithoutCancel(ctx), t.trashKey); err != nil {
		slog.Warn("failed to purge trashed content", "trash_key", t.trashKey, "error", err)
	}
}
