// Package account registers and signs in users against the users collection
// of the feed tree. It produces the chat.Session the rest of the client
// consumes.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// User is the record stored at users/{uid}.
type User struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// Session converts the record into a session for uid.
func (u User) Session(uid string) chat.Session {
	return chat.Session{
		UserID:    uid,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: time.UnixMilli(u.CreatedAt),
	}
}

// Store is the feed capability the accounts need.
type Store interface {
	feed.Reader
	feed.Writer
}

// Options configures a Service.
type Options struct {
	// Cost is the bcrypt cost. Zero selects bcrypt.DefaultCost.
	Cost int
	Now  func() time.Time
}

// Service manages user records.
type Service struct {
	store Store
	cost  int
	now   func() time.Time
}

// New creates an account service over store.
func New(store Store, opts Options) *Service {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, cost: opts.Cost, now: opts.Now}
}

// Register creates a user. An empty username defaults to the local part of
// the email address.
func (s *Service) Register(ctx context.Context, email, password, username string) (chat.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return chat.Session{}, err
	}
	if len(password) < MinPasswordLength {
		return chat.Session{}, ErrWeakPassword
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	users, err := s.users(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	for _, u := range users {
		if u.Email == email {
			return chat.Session{}, ErrEmailTaken
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return chat.Session{}, fmt.Errorf("hash password: %w", err)
	}

	uid := uuid.NewString()
	user := User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UnixMilli(),
	}
	if err := s.store.Set(ctx, feed.Join(feed.UsersPath, uid), user); err != nil {
		return chat.Session{}, fmt.Errorf("%w: register: %w", chat.ErrTransientFeed, err)
	}

	return user.Session(uid), nil
}

// Login checks credentials and returns the user's session.
func (s *Service) Login(ctx context.Context, email, password string) (chat.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return chat.Session{}, ErrInvalidCredentials
	}

	users, err := s.users(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	for uid, u := range users {
		if u.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return chat.Session{}, ErrInvalidCredentials
		}
		return u.Session(uid), nil
	}
	return chat.Session{}, ErrInvalidCredentials
}

// Lookup returns the session of an existing user id.
func (s *Service) Lookup(ctx context.Context, uid string) (chat.Session, error) {
	raw, found, err := s.store.Get(ctx, feed.Join(feed.UsersPath, uid))
	if err != nil {
		return chat.Session{}, fmt.Errorf("%w: lookup user: %w", chat.ErrTransientFeed, err)
	}
	if !found {
		return chat.Session{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return chat.Session{}, fmt.Errorf("%w: user %s: %v", chat.ErrMalformedRecord, uid, err)
	}
	return u.Session(uid), nil
}

func (s *Service) users(ctx context.Context) (map[string]User, error) {
	raw, found, err := s.store.Get(ctx, feed.UsersPath)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", chat.ErrTransientFeed, err)
	}
	if !found {
		return nil, nil
	}
	var users map[string]User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("%w: users: %v", chat.ErrMalformedRecord, err)
	}
	return users, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(addr.Address), nil
}
