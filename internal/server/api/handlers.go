package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the filevault API.
type Handler struct {
	files  *service.FileService
	users  *service.UserService
	health HealthChecker
	cfg    *config.Config
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(files *service.FileService, users *service.UserService, health HealthChecker, cfg *config.Config) *Handler {
	return &Handler{files: files, users: users, health: health, cfg: cfg}
}

type userResponse struct {
	ID        int64         `json:"id"`
	Email     string        `json:"email"`
	Username  string        `json:"username"`
	FullName  string        `json:"full_name"`
	Role      database.Role `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
}

func newUserResponse(u *database.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type fileResponse struct {
	ID             int64      `json:"id"`
	OriginalName   string     `json:"original_name"`
	StoredName     string     `json:"stored_name"`
	Comment        string     `json:"comment"`
	Size           int64      `json:"size"`
	UploadedAt     time.Time  `json:"uploaded_at"`
	LastDownloadAt *time.Time `json:"last_download_at"`
	ShareToken     *string    `json:"share_token"`
	ShareExpiresAt *time.Time `json:"share_expires_at"`
}

func newFileResponse(f *database.FileRecord) fileResponse {
	r := fileResponse{
		ID:             f.ID,
		OriginalName:   f.OriginalName,
		StoredName:     f.StoredName,
		Comment:        f.Comment,
		Size:           f.Size,
		UploadedAt:     f.UploadedAt,
		LastDownloadAt: f.LastDownloadAt,
	}
	if f.Share != nil {
		token, expiresAt := f.Share.Token, f.Share.ExpiresAt
		r.ShareToken = &token
		r.ShareExpiresAt = &expiresAt
	}
	return r
}

func newFileList(files []*database.FileRecord) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, newFileResponse(f))
	}
	return out
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s id", service.ErrValidation, name)
	}
	return id, nil
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var in service.RegisterInput
	if err := c.Bind(&in); err != nil {
		return err
	}

	u, err := h.users.Register(c.Request().Context(), in)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newUserResponse(u))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	session, err := h.users.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       newUserResponse(session.User),
	})
}

// HandleLogout handles POST /api/auth/logout.
// Every session of the caller is revoked, not only the current one.
func (h *Handler) HandleLogout(c echo.Context) error {
	if err := h.users.Logout(c.Request().Context(), currentUser(c).ID); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleMe handles GET /api/users/me.
func (h *Handler) HandleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}

// HandleListUsers handles GET /api/users.
func (h *Handler) HandleListUsers(c echo.Context) error {
	users, err := h.users.ListUsers(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	return c.JSON(http.StatusOK, out)
}

type roleRequest struct {
	Role string `json:"role"`
}

// HandleUpdateRole handles PATCH /api/users/:user/role.
func (h *Handler) HandleUpdateRole(c echo.Context) error {
	id, err := pathID(c, "user")
	if err != nil {
		return mapServiceError(c, err)
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	u, err := h.users.UpdateRole(c.Request().Context(), id, req.Role)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newUserResponse(u))
}

// HandleDeleteUser handles DELETE /api/users/:user.
// All files of the user are removed along with the account.
func (h *Handler) HandleDeleteUser(c echo.Context) error {
	id, err := pathID(c, "user")
	if err != nil {
		return mapServiceError(c, err)
	}
	if err := h.users.DeleteUser(c.Request().Context(), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.files.GetStats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_users":        stats.TotalUsers,
		"total_files":        stats.TotalFiles,
		"active_shares":      stats.ActiveShares,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
