package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	minSecretLength = 32
)

// AccessClaims authorize API requests. ID carries the session identifier.
type AccessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims bind a refresh token to the user's current refresh_jti.
type RefreshClaims struct {
	RefreshJTI string `json:"refresh_jti"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 access and refresh tokens with a
// single shared secret.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration) (*TokenIssuer, error) {
	if len(strings.TrimSpace(secret)) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d characters", minSecretLength)
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}
	if refreshTTL <= accessTTL {
		return nil, fmt.Errorf("refresh token ttl must exceed access token ttl")
	}

	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshExpiry is the server-side expiry stamped on a freshly rotated
// refresh credential.
func (i *TokenIssuer) RefreshExpiry() time.Time {
	return i.now().Add(i.refreshTTL).UTC().Truncate(time.Second)
}

func (i *TokenIssuer) IssueAccessToken(userID string, sessionID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("user id and session id are required")
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.accessTTL)
	claims := AccessClaims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (i *TokenIssuer) IssueRefreshToken(userID string, refreshJTI string, expiresAt time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(refreshJTI) == "" {
		return "", fmt.Errorf("user id and refresh jti are required")
	}

	claims := RefreshClaims{
		RefreshJTI: refreshJTI,
		Type:       tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(i.now().UTC().Truncate(time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseRefreshToken verifies signature, algorithm, expiry and the refresh
// marker. Every failure, expiry included, is reported as ErrInvalidToken;
// the library cause stays in the chain (errors.Is(err, jwt.ErrTokenExpired)).
func (i *TokenIssuer) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Type != tokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.RefreshJTI) == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing refresh_jti or sub claim", ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrUnauthorized)
	}
	return claims, nil
}

func (i *TokenIssuer) parse(raw string, claims jwt.Claims) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	return err
}
