package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fishmarket/go/internal/models"
)

var (
	// ErrUnauthenticated means the token is absent, malformed, expired or
	// names an unknown account.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAccountInactive means the account behind a valid token is deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountNotFound is returned by an AccountLookup for unknown users.
	ErrAccountNotFound = errors.New("account not found")
)

// RoleAdmin grants access to administrative auction transitions.
const RoleAdmin = "admin"

// Claims are the JWT claims issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified user bound to a connection.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the identity may run administrative transitions.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// TokenVerifier checks HS256 tokens.
type TokenVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string, clock clockwork.Clock) *TokenVerifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenVerifier{secret: []byte(secret), clock: clock}
}

// Verify checks the token signature and expiry and returns its claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// SignToken issues an HS256 token for userID. Token issuance belongs to the
// identity service; this exists for tooling and tests.
func SignToken(secret string, userID uuid.UUID, role string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	return token.SignedString([]byte(secret))
}

// AccountLookup is the identity collaborator consulted on every connection.
type AccountLookup interface {
	LookupAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)
}

// Authenticator turns a token into a verified identity.
type Authenticator struct {
	verifier *TokenVerifier
	accounts AccountLookup
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(verifier *TokenVerifier, accounts AccountLookup) *Authenticator {
	return &Authenticator{verifier: verifier, accounts: accounts}
}

// Authenticate verifies the token and confirms the account is active. Lookup
// failures other than a missing account are returned unwrapped so callers
// can tell them apart from a rejected identity.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return Identity{}, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid user id", ErrUnauthenticated)
	}

	account, err := a.accounts.LookupAccount(ctx, userID)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	case err != nil:
		return Identity{}, fmt.Errorf("failed to look up account: %w", err)
	case !account.Active:
		return Identity{}, ErrAccountInactive
	}

	return Identity{UserID: userID, Role: claims.Role}, nil
}
