// Package auth exchanges Pi access tokens for DropLink session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/interfaces"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/pinetwork"
)

var (
	ErrInvalidAccessToken = errors.New("invalid Pi access token")
	ErrInvalidToken       = errors.New("invalid session token")
)

const issuer = "droplink"

type Claims struct {
	PiUID    string `json:"pi_uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	Profile   *models.Profile
}

// MeFetcher resolves a Pi access token to its user.
type MeFetcher interface {
	Me(ctx context.Context, accessToken string) (*pinetwork.Me, error)
}

type Service struct {
	pi       MeFetcher
	profiles interfaces.ProfileRepository
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewService(pi MeFetcher, profiles interfaces.ProfileRepository, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{pi: pi, profiles: profiles, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Login verifies the access token with Pi, resolves the profile and issues a session.
func (s *Service) Login(ctx context.Context, accessToken string) (*Session, error) {
	me, err := s.pi.Me(ctx, accessToken)
	if err != nil {
		var apiErr *pinetwork.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
		}
		return nil, err
	}
	if me.UID == "" {
		return nil, ErrInvalidAccessToken
	}

	profile, err := s.profiles.Resolve(ctx, me.UID, me.Username)
	if err != nil {
		return nil, fmt.Errorf("resolve profile: %w", err)
	}

	token, expiresAt, err := s.Issue(profile)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}

func (s *Service) Issue(profile *models.Profile) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		PiUID:    profile.PiUID,
		Username: profile.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) Parse(tokenStr string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.PiUID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
