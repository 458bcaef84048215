package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"filevault/internal/server/database"
)

// maxTokenAttempts bounds retries on the (astronomically unlikely) event of
// a share token collision.
const maxTokenAttempts = 3

// ShareLink is a public, time-limited download link for one file.
type ShareLink struct {
	URL       string    `json:"link"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueLink creates a new share token for a file of ownerID, replacing any
// earlier token, and returns its public URL.
func (s *FileService) IssueLink(ctx context.Context, ownerID, fileID int64) (*ShareLink, error) {
	if _, err := s.ownedFile(ctx, ownerID, fileID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		token, err := generateSecureToken(shareTokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate share token: %w", err)
		}
		expiresAt := s.now().UTC().Add(s.cfg.ShareTTL)

		err = s.repo.SetShareToken(ctx, fileID, ownerID, token, expiresAt)
		if errors.Is(err, database.ErrConflict) && attempt < maxTokenAttempts {
			continue
		}
		if err != nil {
			return nil, mapRepoError(err)
		}

		slog.Info("share link issued", "file_id", fileID, "expires_at", expiresAt)
		return &ShareLink{
			URL:       fmt.Sprintf("%s/api/storage/shared/%s", s.cfg.BaseURL, token),
			Token:     token,
			ExpiresAt: expiresAt,
		}, nil
	}
}

// ResolveToken returns the file a share token grants access to. A token
// whose expiry is at or before now is cleared and reported as ErrLinkExpired.
func (s *FileService) ResolveToken(ctx context.Context, token string) (*database.FileRecord, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	f, err := s.repo.GetFileByToken(ctx, token)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if f.Share == nil || f.Share.Token != token {
		return nil, ErrNotFound
	}

	if f.Share.Expired(s.now()) {
		if err := s.repo.ClearShareToken(ctx, f.ID, token); err != nil {
			slog.Warn("failed to clear expired share token", "file_id", f.ID, "error", err)
		}
		slog.Info("expired share link used", "file_id", f.ID, "expired_at", f.Share.ExpiresAt)
		return nil, ErrLinkExpired
	}

	s.sweep(ctx)
	return f, nil
}
