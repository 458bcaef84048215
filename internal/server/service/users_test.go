package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"filevault/internal/server/auth"
	"filevault/internal/server/database"
	"filevault/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T, f *fixture) *UserService {
	t.Helper()
	sessions, err := auth.NewSessionIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	return NewUserService(f.repo, f.store, sessions, WithClock(f.clock.Now))
}

func validInput(username string) RegisterInput {
	return RegisterInput{
		Email:    username + "@example.com",
		Username: username,
		FullName: "Test User",
		Password: "correct horse",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)

	u, err := users.Register(ctx, validInput("alice"))
	require.NoError(t, err)
	assert.Equal(t, database.RoleUser, u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	sess, err := users.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, u.ID, sess.User.ID)

	got, err := users.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.Login(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)

	tests := []struct {
		name   string
		mutate func(in *RegisterInput)
	}{
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }},
		{"short username", func(in *RegisterInput) { in.Username = "ab" }},
		{"username with slash", func(in *RegisterInput) { in.Username = "a/b/c" }},
		{"missing full name", func(in *RegisterInput) { in.FullName = "  " }},
		{"short password", func(in *RegisterInput) { in.Password = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("carol")
			tt.mutate(&in)
			_, err := users.Register(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)

	_, err := users.Register(ctx, validInput("alice"))
	require.NoError(t, err)

	_, err = users.Register(ctx, validInput("alice"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLogout_RevokesSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)

	_, err := users.Register(ctx, validInput("alice"))
	require.NoError(t, err)
	sess, err := users.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	require.NoError(t, users.Logout(ctx, sess.User.ID))

	_, err = users.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	again, err := users.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	_, err = users.Authenticate(ctx, again.Token)
	assert.NoError(t, err)
}

func TestAuthenticate_Invalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)

	_, err := users.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)
	alice := f.user(t, "alice", database.RoleUser)

	u, err := users.UpdateRole(ctx, alice.ID, "admin")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())

	_, err = users.UpdateRole(ctx, alice.ID, "superuser")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = users.UpdateRole(ctx, 999, "user")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("cascades to files and content", func(t *testing.T) {
		f := newFixture(t)
		users := newUserService(t, f)
		alice := f.user(t, "alice", database.RoleUser)
		bob := f.user(t, "bob", database.RoleUser)
		a1 := f.upload(t, alice.ID, "a1.txt", "1")
		f.upload(t, alice.ID, "a2.txt", "2")
		b := f.upload(t, bob.ID, "b.txt", "b")

		require.NoError(t, users.DeleteUser(ctx, alice.ID))

		_, err := users.GetUser(ctx, alice.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.repo.GetFile(ctx, a1.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		assert.Equal(t, []string{b.ContentKey()}, f.keys(t, ""))
	})

	t.Run("failed commit restores content", func(t *testing.T) {
		f := newFixture(t)
		users := newUserService(t, f)
		alice := f.user(t, "alice", database.RoleUser)
		a1 := f.upload(t, alice.ID, "a1.txt", "1")
		a2 := f.upload(t, alice.ID, "a2.txt", "2")
		f.repo.CommitErr = errors.New("commit failed")

		require.Error(t, users.DeleteUser(ctx, alice.ID))

		assert.Equal(t, "1", f.content(t, a1.ContentKey()))
		assert.Equal(t, "2", f.content(t, a2.ContentKey()))
		assert.Empty(t, f.keys(t, storage.TrashPrefix))
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		users := newUserService(t, f)
		assert.ErrorIs(t, users.DeleteUser(ctx, 31), ErrNotFound)
	})
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := newUserService(t, f)
	f.user(t, "alice", database.RoleUser)
	f.user(t, "bob", database.RoleAdmin)

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)
}
