package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"filevault/internal/server/database"
	"filevault/internal/server/delivery"
	"filevault/internal/server/storage"
)

// Delivery is an opened file ready to be streamed. The caller must close Object.
type Delivery struct {
	Record *database.FileRecord
	Object *storage.Object
	Mode   delivery.Mode
}

// OpenForView opens a file of ownerID for inline display. Viewing does not
// count as a download.
func (s *FileService) OpenForView(ctx context.Context, ownerID, fileID int64) (*Delivery, error) {
	f, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	obj, err := s.openContent(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Delivery{Record: f, Object: obj, Mode: delivery.Inline}, nil
}

// OpenForDownload opens a file as an attachment for its owner or an admin
// and records the download time.
func (s *FileService) OpenForDownload(ctx context.Context, actor *database.User, fileID int64) (*Delivery, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	f, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if f.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, ErrNotFound
	}
	return s.openAttachment(ctx, f)
}

// OpenShared opens the file behind a share token as an attachment and
// records the download time.
func (s *FileService) OpenShared(ctx context.Context, token string) (*Delivery, error) {
	f, err := s.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.openAttachment(ctx, f)
}

func (s *FileService) openAttachment(ctx context.Context, f *database.FileRecord) (*Delivery, error) {
	obj, err := s.openContent(ctx, f)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.TouchLastDownload(ctx, f.ID, now); err != nil {
		obj.Close()
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to record download: %w", err)
	}
	f.LastDownloadAt = &now

	return &Delivery{Record: f, Object: obj, Mode: delivery.Attachment}, nil
}

func (s *FileService) openContent(ctx context.Context, f *database.FileRecord) (*storage.Object, error) {
	obj, err := s.store.Open(ctx, f.ContentKey())
	if errors.Is(err, storage.ErrObjectNotFound) {
		slog.Error("file record without content",
			"file_id", f.ID,
			"owner_id", f.OwnerID,
			"key", f.ContentKey(),
		)
		return nil, ErrContentMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return obj, nil
}
