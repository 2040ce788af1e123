package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hay-kot/parley/internal/feed/memfeed"
)

func newService(t *testing.T) (*Service, *memfeed.Feed) {
	t.Helper()
	f, err := memfeed.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	svc := New(f, Options{
		Cost: bcrypt.MinCost,
		Now:  func() time.Time { return time.UnixMilli(1000) },
	})
	return svc, f
}

func TestRegister(t *testing.T) {
	svc, f := newService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, " Ann@Example.com ", "secret1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.UserID)
	assert.Equal(t, "ann", sess.Username)
	assert.Equal(t, "ann@example.com", sess.Email)

	raw, found, err := f.Get(ctx, "users/"+sess.UserID+"/passwordHash")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), "secret1")

	_, err = svc.Register(ctx, "ann@example.com", "another1", "ann2")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"bad email", "not-an-email", "secret1", ErrInvalidEmail},
		{"display name", "Ann <ann@example.com>", "secret1", ErrInvalidEmail},
		{"short password", "ann@example.com", "abc", ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.email, tt.password, "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bobby")
	require.NoError(t, err)

	sess, err := svc.Login(ctx, "BOB@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, registered.UserID, sess.UserID)
	assert.Equal(t, "Bobby", sess.Username)

	_, err = svc.Login(ctx, "bob@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLookup(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "cy@example.com", "password", "")
	require.NoError(t, err)

	sess, err := svc.Lookup(ctx, registered.UserID)
	require.NoError(t, err)
	assert.Equal(t, registered, sess)

	_, err = svc.Lookup(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}
