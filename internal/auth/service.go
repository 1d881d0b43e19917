package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/technosupport/remotehub/internal/session"
	"github.com/technosupport/remotehub/internal/tokens"
)

// ErrInvalidCredentials is returned for an unknown username, a wrong
// password, or a currently locked-out account. The three cases are folded
// into one error so the REST surface never reveals which of them applies.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin is one compiled-in (or config/admins.yaml-overridden) administrator
// record. Password is stored as an argon2id hash, never plaintext.
type Admin struct {
	Username       string
	PasswordHash   string
	AllowedTenants []string
}

// AdminDirectory resolves a username to its Admin record. It is satisfied by
// both the compiled-in seed list and the hot-reloadable config overlay.
type AdminDirectory interface {
	Lookup(username string) (Admin, bool)
}

// Service implements spec.md's Auth contract: issue(username, password) -> a
// signed token scoped to the admin's allowedTenants, or a uniform
// "invalid credentials" error.
type Service struct {
	directory AdminDirectory
	lockouts  *session.Manager
	tokens    *tokens.Manager
	blacklist TokenBlacklist
}

func NewService(directory AdminDirectory, lockouts *session.Manager, tm *tokens.Manager, blacklist TokenBlacklist) *Service {
	return &Service{directory: directory, lockouts: lockouts, tokens: tm, blacklist: blacklist}
}

// Issue validates username/password against the directory and lockout state,
// and on success mints a bearer token. A failed attempt is recorded against
// the lockout counter; a success clears it.
func (s *Service) Issue(ctx context.Context, username, password string) (string, Admin, error) {
	if s.lockouts != nil {
		locked, err := s.lockouts.CheckLockout(ctx, username)
		if err != nil {
			return "", Admin{}, fmt.Errorf("check lockout: %w", err)
		}
		if locked {
			return "", Admin{}, ErrInvalidCredentials
		}
	}

	admin, ok := s.directory.Lookup(username)
	valid := false
	if ok {
		valid, _ = CheckPassword(password, admin.PasswordHash)
	}
	if !ok || !valid {
		if s.lockouts != nil {
			_ = s.lockouts.RecordFailedAttempt(ctx, username)
		}
		return "", Admin{}, ErrInvalidCredentials
	}

	if s.lockouts != nil {
		_ = s.lockouts.ClearFailures(ctx, username)
	}

	tok, err := s.tokens.Issue(admin.Username, admin.AllowedTenants)
	if err != nil {
		return "", Admin{}, fmt.Errorf("issue token: %w", err)
	}
	return tok, admin, nil
}

// Logout blacklists the token identified by jti for the remainder of its
// natural lifetime, so it stops verifying immediately instead of at expiry.
func (s *Service) Logout(ctx context.Context, jti string, remaining int64) error {
	if s.blacklist == nil {
		return nil
	}
	if remaining <= 0 {
		return nil
	}
	return s.blacklist.Revoke(ctx, jti, time.Duration(remaining)*time.Second)
}
