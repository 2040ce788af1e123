package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/parley/internal/core/account"
	"github.com/hay-kot/parley/internal/core/chat"
)

// SessionStore holds the locally signed-in session.
type SessionStore interface {
	Load(ctx context.Context) (*chat.Session, error)
	Clear(ctx context.Context) error
}

// UserLookup resolves a user id against the server.
type UserLookup interface {
	Lookup(ctx context.Context, uid string) (chat.Session, error)
}

// SessionCheck verifies the stored session still names a known user.
type SessionCheck struct {
	sessions SessionStore
	users    UserLookup
	fix      bool
}

// NewSessionCheck creates a session check. users may be nil when the feed
// is unreachable; if fix is true a stale session is cleared.
func NewSessionCheck(sessions SessionStore, users UserLookup, fix bool) *SessionCheck {
	return &SessionCheck{sessions: sessions, users: users, fix: fix}
}

func (c *SessionCheck) Name() string {
	return "Session"
}

func (c *SessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	sess, err := c.sessions.Load(ctx)
	if err != nil {
		result.add(StatusFail, "Session file", err.Error())
		return result
	}
	if sess == nil {
		result.add(StatusWarn, "Signed in", "not signed in, run 'parley account login'")
		return result
	}

	if c.users == nil {
		result.add(StatusWarn, "Signed in", fmt.Sprintf("as %s (not verified, feed unavailable)", sess.Username))
		return result
	}

	_, err = c.users.Lookup(ctx, sess.UserID)
	switch {
	case err == nil:
		result.add(StatusPass, "Signed in", "as "+sess.Username)
	case errors.Is(err, account.ErrUserNotFound):
		item := CheckItem{
			Label:   "Signed in",
			Status:  StatusFail,
			Detail:  fmt.Sprintf("user %s no longer exists on the server", sess.UserID),
			Fixable: true,
		}
		if c.fix {
			if err := c.sessions.Clear(ctx); err != nil {
				item.Detail = "clear stale session: " + err.Error()
			} else {
				item.Status = StatusPass
				item.Detail = "cleared stale session for " + sess.Username
			}
		}
		result.Items = append(result.Items, item)
	default:
		result.add(StatusWarn, "Signed in", "could not verify user: "+err.Error())
	}

	return result
}
