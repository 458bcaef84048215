package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"filevault/internal/server/auth"
	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/database/dbtest"
	"filevault/internal/server/service"
	"filevault/internal/server/storage"

	"github.com/labstack/echo/v4"
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

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.BaseURL = "https://vault.example.com"
	cfg.MaxFileSize = 1024
	cfg.ChunkSize = 4
	cfg.SessionSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

type server struct {
	e        *echo.Echo
	repo     *dbtest.MemRepository
	store    *storage.FileSystemStore
	clock    *testClock
	sessions *auth.SessionIssuer
}

func newServer(t *testing.T) *server {
	t.Helper()

	cfg := testConfig()

	store := storage.NewFileSystemStoreFs(afero.NewMemMapFs())
	require.NoError(t, store.Init(context.Background()))

	sessions, err := auth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL)
	require.NoError(t, err)

	repo := dbtest.NewMemRepository()
	clock := &testClock{now: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}

	files := service.NewFileService(repo, store, cfg, service.WithClock(clock.Now))
	users := service.NewUserService(repo, store, sessions, service.WithClock(clock.Now))
	h := NewHandler(files, users, fakeHealth{}, cfg)

	return &server{
		e:        SetupRouter(h, cfg),
		repo:     repo,
		store:    store,
		clock:    clock,
		sessions: sessions,
	}
}

// user inserts an account directly and returns it with a session token.
func (s *server) user(t *testing.T, username string, role database.Role) (*database.User, string) {
	t.Helper()
	u := &database.User{
		Email:        username + "@example.com",
		Username:     username,
		FullName:     username,
		Role:         role,
		PasswordHash: "unused",
	}
	require.NoError(t, s.repo.CreateUser(context.Background(), u))
	token, _, err := s.sessions.Issue(u.ID, u.SessionEpoch)
	require.NoError(t, err)
	return u, token
}

func (s *server) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) get(t *testing.T, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodGet, target, token, nil, "")
}

func (s *server) sendJSON(t *testing.T, method, target, token string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, method, target, token, bytes.NewReader(b), echo.MIMEApplicationJSON)
}

func (s *server) upload(t *testing.T, target, token, filename, content, comment string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	if comment != "" {
		require.NoError(t, w.WriteField("comment", comment))
	}
	require.NoError(t, w.Close())
	return s.do(t, http.MethodPost, target, token, &buf, w.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
