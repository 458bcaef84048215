package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/database/dbtest"
	"filevault/internal/server/storage"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo  *dbtest.MemRepository
	store *storage.FileSystemStore
	cfg   *config.Config
	clock *testClock
	files *FileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.BaseURL = "https://vault.example.com"
	cfg.MaxFileSize = 1024

	store := storage.NewFileSystemStoreFs(afero.NewMemMapFs())
	require.NoError(t, store.Init(context.Background()))

	repo := dbtest.NewMemRepository()
	clock := &testClock{now: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}

	return &fixture{
		repo:  repo,
		store: store,
		cfg:   cfg,
		clock: clock,
		files: NewFileService(repo, store, cfg, WithClock(clock.Now)),
	}
}

// user inserts an account directly, bypassing password hashing.
func (f *fixture) user(t *testing.T, username string, role database.Role) *database.User {
	t.Helper()
	u := &database.User{
		Email:        username + "@example.com",
		Username:     username,
		FullName:     strings.ToUpper(username[:1]) + username[1:],
		Role:         role,
		PasswordHash: "unused",
	}
	require.NoError(t, f.repo.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) upload(t *testing.T, ownerID int64, name, content string) *database.FileRecord {
	t.Helper()
	rec, err := f.files.Upload(context.Background(), ownerID, name, "", strings.NewReader(content))
	require.NoError(t, err)
	return rec
}

func (f *fixture) content(t *testing.T, key string) string {
	t.Helper()
	obj, err := f.store.Open(context.Background(), key)
	require.NoError(t, err)
	defer obj.Close()
	b, err := io.ReadAll(obj)
	require.NoError(t, err)
	return string(b)
}

func (f *fixture) keys(t *testing.T, prefix string) []string {
	t.Helper()
	objects, err := f.store.List(context.Background(), prefix)
	require.NoError(t, err)
	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys
}
