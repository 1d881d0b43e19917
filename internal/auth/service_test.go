package auth_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/session"
	"github.com/technosupport/remotehub/internal/tokens"
)

type fakeDirectory struct {
	admins map[string]auth.Admin
}

func (f fakeDirectory) Lookup(username string) (auth.Admin, bool) {
	a, ok := f.admins[username]
	return a, ok
}

func newTestService(t *testing.T) (*auth.Service, *session.Manager) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewManagerFromClient(rdb)

	hash, err := auth.HashPassword("@ims1234!")
	require.NoError(t, err)
	dir := fakeDirectory{admins: map[string]auth.Admin{
		"adminCLA": {Username: "adminCLA", PasswordHash: hash, AllowedTenants: []string{"CLA1", "CLA2"}},
	}}

	tm := tokens.NewManager("test-secret")
	blacklist := auth.NewRedisBlacklist(rdb)
	return auth.NewService(dir, sessions, tm, blacklist), sessions
}

func TestIssueHappyPath(t *testing.T) {
	svc, _ := newTestService(t)
	tok, admin, err := svc.Issue(context.Background(), "adminCLA", "@ims1234!")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, []string{"CLA1", "CLA2"}, admin.AllowedTenants)
}

func TestIssueRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Issue(context.Background(), "adminCLA", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestIssueRejectsUnknownUsername(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Issue(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestIssueLocksOutAfterThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < session.LockoutThreshold; i++ {
		_, _, err := svc.Issue(ctx, "adminCLA", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	_, _, err := svc.Issue(ctx, "adminCLA", "@ims1234!")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "account should be locked even with the correct password")
}
