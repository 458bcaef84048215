// Package dbtest provides an in-memory repository with the same semantics as
// the Postgres repository, for service and handler tests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"filevault/internal/server/database"
)

// MemRepository is a concurrency-safe in-memory stand-in for
// database.PostgresRepository. Callback-style methods run their finalize
// function while holding the repository lock, like a transaction.
type MemRepository struct {
	mu     sync.Mutex
	users  map[int64]*database.User
	files  map[int64]*database.FileRecord
	nextID int64

	// CommitErr, when set, makes transactional methods fail after finalize
	// succeeded, as if the commit itself failed. No changes are applied.
	CommitErr error
}

// NewMemRepository returns an empty repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		users: make(map[int64]*database.User),
		files: make(map[int64]*database.FileRecord),
	}
}

func (m *MemRepository) id() int64 {
	m.nextID++
	return m.nextID
}

// --- Users ---

func (m *MemRepository) CreateUser(ctx context.Context, u *database.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return database.ErrConflict
		}
	}
	if u.Role == "" {
		u.Role = database.RoleUser
	}
	u.ID = m.id()
	u.SessionEpoch = 0
	u.CreatedAt = time.Now().UTC()
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *MemRepository) GetUserByID(ctx context.Context, id int64) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemRepository) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *MemRepository) ListUsers(ctx context.Context) ([]*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]*database.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemRepository) UpdateUserRole(ctx context.Context, id int64, role database.Role) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	u.Role = role
	return cloneUser(u), nil
}

func (m *MemRepository) BumpSessionEpoch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return database.ErrNotFound
	}
	u.SessionEpoch++
	return nil
}

func (m *MemRepository) DeleteUser(ctx context.Context, id int64, finalize func(files []*database.FileRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return database.ErrNotFound
	}

	var owned []*database.FileRecord
	for _, f := range m.files {
		if f.OwnerID == id {
			owned = append(owned, cloneFile(f))
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })

	if err := finalize(owned); err != nil {
		return err
	}
	if m.CommitErr != nil {
		return m.CommitErr
	}

	delete(m.users, id)
	for _, f := range owned {
		delete(m.files, f.ID)
	}
	return nil
}

// --- Files ---

func (m *MemRepository) ListFilesByOwner(ctx context.Context, ownerID int64) ([]*database.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var files []*database.FileRecord
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			files = append(files, cloneFile(f))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].UploadedAt.Before(files[j].UploadedAt)
		}
		return files[i].ID < files[j].ID
	})
	return files, nil
}

func (m *MemRepository) GetFile(ctx context.Context, id int64) (*database.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *MemRepository) GetFileByToken(ctx context.Context, token string) (*database.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		if f.Share != nil && f.Share.Token == token {
			return cloneFile(f), nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *MemRepository) CreateFile(ctx context.Context, f *database.FileRecord, finalize func(*database.FileRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[f.OwnerID]; !ok {
		return database.ErrNotFound
	}

	taken := make(map[string]bool)
	for _, existing := range m.files {
		if existing.OwnerID == f.OwnerID {
			taken[existing.StoredName] = true
		}
	}
	f.StoredName = database.ResolveStoredName(f.StoredName, taken)
	f.ID = m.id()

	if err := finalize(f); err != nil {
		return err
	}
	if m.CommitErr != nil {
		return m.CommitErr
	}

	m.files[f.ID] = cloneFile(f)
	return nil
}

func (m *MemRepository) RenameFile(ctx context.Context, id int64, name, storedName string, finalize func(before, after *database.FileRecord) error) (*database.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.files[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	for _, other := range m.files {
		if other.ID != id && other.OwnerID == current.OwnerID && other.StoredName == storedName {
			return nil, database.ErrConflict
		}
	}

	before := cloneFile(current)
	after := cloneFile(current)
	after.OriginalName = name
	after.StoredName = storedName

	if err := finalize(before, after); err != nil {
		return nil, err
	}
	if m.CommitErr != nil {
		return nil, m.CommitErr
	}

	m.files[id] = cloneFile(after)
	return after, nil
}

func (m *MemRepository) DeleteFile(ctx context.Context, id int64, finalize func(*database.FileRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return database.ErrNotFound
	}
	if err := finalize(cloneFile(f)); err != nil {
		return err
	}
	if m.CommitErr != nil {
		return m.CommitErr
	}

	delete(m.files, id)
	return nil
}

func (m *MemRepository) SetShareToken(ctx context.Context, id, ownerID int64, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID {
		return database.ErrNotFound
	}
	for _, other := range m.files {
		if other.ID != id && other.Share != nil && other.Share.Token == token {
			return database.ErrConflict
		}
	}
	f.Share = &database.ShareToken{Token: token, ExpiresAt: expiresAt}
	return nil
}

func (m *MemRepository) ClearShareToken(ctx context.Context, id int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[id]; ok && f.Share != nil && f.Share.Token == token {
		f.Share = nil
	}
	return nil
}

func (m *MemRepository) SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared int64
	for _, f := range m.files {
		if f.Share != nil && f.Share.Expired(now) {
			f.Share = nil
			cleared++
		}
	}
	return cleared, nil
}

func (m *MemRepository) TouchLastDownload(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return database.ErrNotFound
	}
	if f.LastDownloadAt == nil || at.After(*f.LastDownloadAt) {
		t := at
		f.LastDownloadAt = &t
	}
	return nil
}

func (m *MemRepository) GetStats(ctx context.Context, now time.Time) (*database.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &database.Stats{TotalUsers: int64(len(m.users)), TotalFiles: int64(len(m.files))}
	for _, f := range m.files {
		stats.StorageUsed += f.Size
		if f.Share != nil && !f.Share.Expired(now) {
			stats.ActiveShares++
		}
	}
	return stats, nil
}

func cloneUser(u *database.User) *database.User {
	c := *u
	return &c
}

func cloneFile(f *database.FileRecord) *database.FileRecord {
	c := *f
	if f.LastDownloadAt != nil {
		t := *f.LastDownloadAt
		c.LastDownloadAt = &t
	}
	if f.Share != nil {
		s := *f.Share
		c.Share = &s
	}
	return &c
}
