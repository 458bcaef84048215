package database

import (
	"fmt"
	"time"
)

// Role is the access role of a user account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account in the database.
type User struct {
	ID           int64
	Email        string
	Username     string
	FullName     string
	Role         Role
	PasswordHash string
	SessionEpoch int
	CreatedAt    time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// FileRecord represents a stored file's metadata.
type FileRecord struct {
	ID             int64
	OwnerID        int64
	OriginalName   string
	StoredName     string
	Comment        string
	Size           int64
	UploadedAt     time.Time
	LastDownloadAt *time.Time  // nil until the first download
	Share          *ShareToken // nil when the file is not shared
}

// ShareToken is the capability that grants public access to one file until ExpiresAt.
type ShareToken struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t *ShareToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ContentKey is the key of the file's bytes in the content store.
func (f *FileRecord) ContentKey() string {
	return ContentKey(f.OwnerID, f.StoredName)
}

// ContentKey builds the content store key for an owner's stored name.
func ContentKey(ownerID int64, storedName string) string {
	return fmt.Sprintf("%d/%s", ownerID, storedName)
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalUsers   int64
	TotalFiles   int64
	StorageUsed  int64
	ActiveShares int64
}
