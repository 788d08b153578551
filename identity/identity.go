/*
Package identity resolves callers into engine actors.

PURPOSE:
  Owns everything about who the caller is: password hashing, sign-in,
  bearer tokens, and turning a token back into an engine.Actor. The
  engine itself only ever sees opaque password hashes and typed actors.

FLOW:
  Register(username, password)  ──▶ bcrypt hash ──▶ Moderation.Register (pending)
  Login(username, password)     ──▶ bcrypt compare ──▶ approved? ──▶ JWT
  Authenticate(token)           ──▶ verify JWT ──▶ load user ──▶ approved? ──▶ Actor

APPROVAL:
  Pending users cannot sign in, and a token issued before a user was
  blocked stops working on the next request: Authenticate re-reads the
  user from the store every time.

SEE ALSO:
  - token.go: JWT claims and signing
  - engine/actor.go: AdminActor / MemberActor
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/task-ledger/engine"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 4

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrNotApproved is returned when a pending user tries to sign in.
	ErrNotApproved = errors.New("account is awaiting approval")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Service authenticates users against the ledger store.
type Service struct {
	store  *engine.LedgerStore
	mod    *engine.Moderation
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides the clock used for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an identity service. secret signs bearer tokens.
func NewService(store *engine.LedgerStore, mod *engine.Moderation, secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("identity: token ttl must be positive")
	}
	s := &Service{
		store:  store,
		mod:    mod,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// =============================================================================
// PASSWORDS
// =============================================================================

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Register signs up a new participant. The account starts pending.
func (s *Service) Register(ctx context.Context, username, password string) (*engine.User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.mod.Register(ctx, username, hash)
}

// CreateUser adds an approved account on behalf of an administrator.
func (s *Service) CreateUser(ctx context.Context, by engine.AdminActor, username, password string, role engine.Role) (*engine.User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.mod.CreateUser(ctx, by, username, hash, role)
}

// EnsureAdmin creates the bootstrap administrator if no admin exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return false, err
	}
	return s.mod.EnsureAdmin(ctx, username, hash)
}

// ChangePassword sets a new password for userID.
func (s *Service) ChangePassword(ctx context.Context, by engine.Actor, userID engine.UserID, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	return s.mod.ChangePasswordHash(ctx, by, userID, hash)
}

// =============================================================================
// SIGN-IN
// =============================================================================

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *engine.User
}

// Login verifies credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.UserByUsername(strings.TrimSpace(username))
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !checkPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsApproved() {
		return nil, ErrNotApproved
	}

	token, expires, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Authenticate verifies a bearer token and returns the caller.
func (s *Service) Authenticate(token string) (engine.Actor, error) {
	claims, err := s.verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.User(engine.UserID(claims.Subject))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.IsApproved() {
		return nil, ErrNotApproved
	}
	return engine.ActorFor(user), nil
}
