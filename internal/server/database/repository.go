package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing one")
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

const userColumns = `id, email, username, full_name, role, password_hash, session_epoch, created_at`

const fileColumns = `id, owner_id, original_name, stored_name, comment, size,
	uploaded_at, last_download_at, share_token, share_expires_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository provides CRUD operations for users and file records.
type PostgresRepository struct {
	db *DB
}

// NewRepository creates a new PostgresRepository.
func NewRepository(db *DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// --- Users ---

// CreateUser inserts a new user and fills in its ID and creation time.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO users (email, username, full_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, session_epoch, created_at
	`, u.Email, u.Username, u.FullName, string(u.Role), u.PasswordHash,
	).Scan(&u.ID, &u.SessionEpoch, &u.CreatedAt)
	if err != nil {
		return mapError("failed to create user", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError("failed to get user", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError("failed to get user", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by ID.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserRole sets a user's role and returns the updated user.
func (r *PostgresRepository) UpdateUserRole(ctx context.Context, id int64, role Role) (*User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`UPDATE users SET role = $2 WHERE id = $1 RETURNING `+userColumns, id, string(role))
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError("failed to update role", err)
	}
	return u, nil
}

// BumpSessionEpoch invalidates every session token issued to the user so far.
func (r *PostgresRepository) BumpSessionEpoch(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE users SET session_epoch = session_epoch + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to bump session epoch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user and, through the foreign key cascade, all of the
// user's file records. finalize runs inside the transaction with the records
// that are about to disappear; an error from it rolls the deletion back.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64, finalize func(files []*FileRecord) error) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		files, err := queryFiles(ctx, tx,
			`SELECT `+fileColumns+` FROM files WHERE owner_id = $1 ORDER BY id FOR UPDATE`, id)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		return finalize(files)
	})
}

// --- Files ---

// ListFilesByOwner returns all file records of an owner ordered by upload time.
func (r *PostgresRepository) ListFilesByOwner(ctx context.Context, ownerID int64) ([]*FileRecord, error) {
	return queryFiles(ctx, r.db.Pool,
		`SELECT `+fileColumns+` FROM files WHERE owner_id = $1 ORDER BY uploaded_at, id`, ownerID)
}

// GetFile retrieves a file record by ID.
func (r *PostgresRepository) GetFile(ctx context.Context, id int64) (*FileRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, mapError("failed to get file", err)
	}
	return f, nil
}

// GetFileByToken retrieves the file record holding a share token.
func (r *PostgresRepository) GetFileByToken(ctx context.Context, token string) (*FileRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE share_token = $1`, token)
	f, err := scanFile(row)
	if err != nil {
		return nil, mapError("failed to get file by token", err)
	}
	return f, nil
}

// CreateFile inserts a file record. The stored name is made unique among the
// owner's files with ResolveStoredName while holding a per-owner lock, then
// finalize runs before commit so the content can be moved into place; an
// error from finalize rolls the insert back.
func (r *PostgresRepository) CreateFile(ctx context.Context, f *FileRecord, finalize func(*FileRecord) error) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if err := lockOwner(ctx, tx, f.OwnerID); err != nil {
			return err
		}

		taken, err := storedNames(ctx, tx, f.OwnerID)
		if err != nil {
			return err
		}
		f.StoredName = ResolveStoredName(f.StoredName, taken)

		err = tx.QueryRow(ctx, `
			INSERT INTO files (owner_id, original_name, stored_name, comment, size, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, f.OwnerID, f.OriginalName, f.StoredName, f.Comment, f.Size, f.UploadedAt,
		).Scan(&f.ID)
		if err != nil {
			return mapError("failed to create file", err)
		}

		return finalize(f)
	})
}

// RenameFile changes a file's display and stored names. It fails with
// ErrConflict when another file of the same owner already uses storedName.
// finalize receives the record before and after the change and runs before commit.
func (r *PostgresRepository) RenameFile(ctx context.Context, id int64, name, storedName string, finalize func(before, after *FileRecord) error) (*FileRecord, error) {
	var after *FileRecord
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		before, err := scanFile(tx.QueryRow(ctx,
			`SELECT `+fileColumns+` FROM files WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return mapError("failed to get file", err)
		}

		if err := lockOwner(ctx, tx, before.OwnerID); err != nil {
			return err
		}

		var clash bool
		err = tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM files WHERE owner_id = $1 AND stored_name = $2 AND id <> $3)",
			before.OwnerID, storedName, id,
		).Scan(&clash)
		if err != nil {
			return fmt.Errorf("failed to check name conflict: %w", err)
		}
		if clash {
			return ErrConflict
		}

		after, err = scanFile(tx.QueryRow(ctx, `
			UPDATE files SET original_name = $2, stored_name = $3
			WHERE id = $1
			RETURNING `+fileColumns, id, name, storedName))
		if err != nil {
			return mapError("failed to rename file", err)
		}

		return finalize(before, after)
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}

// DeleteFile removes a file record. finalize runs before commit with the
// deleted record; an error from it rolls the deletion back.
func (r *PostgresRepository) DeleteFile(ctx context.Context, id int64, finalize func(*FileRecord) error) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		f, err := scanFile(tx.QueryRow(ctx,
			`DELETE FROM files WHERE id = $1 RETURNING `+fileColumns, id))
		if err != nil {
			return mapError("failed to delete file", err)
		}
		return finalize(f)
	})
}

// SetShareToken stores a share token and its expiry on a file owned by
// ownerID, replacing any previous token. Both columns change in one statement.
func (r *PostgresRepository) SetShareToken(ctx context.Context, id, ownerID int64, token string, expiresAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET share_token = $3, share_expires_at = $4
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID, token, expiresAt)
	if err != nil {
		return mapError("failed to set share token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearShareToken removes the share token from a file if it still holds token.
// Clearing an already replaced or cleared token is a no-op.
func (r *PostgresRepository) ClearShareToken(ctx context.Context, id int64, token string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET share_token = NULL, share_expires_at = NULL
		WHERE id = $1 AND share_token = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("failed to clear share token: %w", err)
	}
	return nil
}

// SweepExpiredTokens clears every share token that expired at or before now.
func (r *PostgresRepository) SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET share_token = NULL, share_expires_at = NULL
		WHERE share_token IS NOT NULL AND share_expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchLastDownload records a download time. Concurrent downloads never move
// the timestamp backwards.
func (r *PostgresRepository) TouchLastDownload(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET last_download_at = GREATEST(COALESCE(last_download_at, $2), $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last download date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats returns aggregate server statistics.
func (r *PostgresRepository) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			COUNT(*),
			COALESCE(SUM(size), 0),
			COUNT(*) FILTER (WHERE share_token IS NOT NULL AND share_expires_at > $1)
		FROM files
	`, now).Scan(
		&stats.TotalUsers,
		&stats.TotalFiles,
		&stats.StorageUsed,
		&stats.ActiveShares,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// --- Helpers ---

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryFiles(ctx context.Context, q querier, sql string, args ...any) ([]*FileRecord, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// lockOwner serializes stored-name assignment for one owner until the
// transaction ends.
func lockOwner(ctx context.Context, tx pgx.Tx, ownerID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ownerID); err != nil {
		return fmt.Errorf("failed to lock owner %d: %w", ownerID, err)
	}
	return nil
}

func storedNames(ctx context.Context, tx pgx.Tx, ownerID int64) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT stored_name FROM files WHERE owner_id = $1", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored names: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan stored name: %w", err)
		}
		taken[name] = true
	}
	return taken, rows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var role string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FullName,
		&role,
		&u.PasswordHash,
		&u.SessionEpoch,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return u, nil
}

func scanFile(row rowScanner) (*FileRecord, error) {
	f := &FileRecord{}
	var token *string
	var expiresAt *time.Time
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.OriginalName,
		&f.StoredName,
		&f.Comment,
		&f.Size,
		&f.UploadedAt,
		&f.LastDownloadAt,
		&token,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if token != nil && expiresAt != nil {
		f.Share = &ShareToken{Token: *token, ExpiresAt: *expiresAt}
	}
	return f, nil
}

// mapError translates driver errors into the package's sentinel errors.
func mapError(msg string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", msg, ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
