package service

import (
	"context"
	"time"

	"filevault/internal/server/database"
)

// FileRepository is the persistence the file service needs.
// database.PostgresRepository implements it.
type FileRepository interface {
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	ListFilesByOwner(ctx context.Context, ownerID int64) ([]*database.FileRecord, error)
	GetFile(ctx context.Context, id int64) (*database.FileRecord, error)
	GetFileByToken(ctx context.Context, token string) (*database.FileRecord, error)
	CreateFile(ctx context.Context, f *database.FileRecord, finalize func(*database.FileRecord) error) error
	RenameFile(ctx context.Context, id int64, name, storedName string, finalize func(before, after *database.FileRecord) error) (*database.FileRecord, error)
	DeleteFile(ctx context.Context, id int64, finalize func(*database.FileRecord) error) error
	SetShareToken(ctx context.Context, id, ownerID int64, token string, expiresAt time.Time) error
	ClearShareToken(ctx context.Context, id int64, token string) error
	SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	TouchLastDownload(ctx context.Context, id int64, at time.Time) error
	GetStats(ctx context.Context, now time.Time) (*database.Stats, error)
}

// UserRepository is the persistence the user service needs.
type UserRepository interface {
	CreateUser(ctx context.Context, u *database.User) error
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	ListUsers(ctx context.Context) ([]*database.User, error)
	UpdateUserRole(ctx context.Context, id int64, role database.Role) (*database.User, error)
	BumpSessionEpoch(ctx context.Context, id int64) error
	DeleteUser(ctx context.Context, id int64, finalize func(files []*database.FileRecord) error) error
}

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
