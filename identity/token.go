package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/warp/task-ledger/engine"
)

const issuer = "taskledger"

// claims carries the user id in Subject. Role is informational; the
// authoritative role is re-read from the store on every request.
type claims struct {
	Role engine.Role `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) issue(user *engine.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	c := claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *Service) verify(token string) (*claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}
