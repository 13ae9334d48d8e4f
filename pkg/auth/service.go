package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/config"
)

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = errors.New("no bearer token in request")
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
)

// TenantHeader names the header used to select a tenant when token
// verification is disabled. Development only.
const TenantHeader = "X-Tenant-ID"

// AuthService validates incoming requests and extracts tenant claims.
type AuthService interface {
	// ValidateRequest authenticates the request and returns its claims and
	// raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireTenantID verifies that the claims carry a well-formed tenant.
	RequireTenantID(claims *Claims) error
}

type jwtAuthService struct {
	cfg *config.AuthConfig
}

// NewAuthService creates an AuthService from the auth configuration.
func NewAuthService(cfg *config.AuthConfig) AuthService {
	return &jwtAuthService{cfg: cfg}
}

var _ AuthService = (*jwtAuthService)(nil)

func (s *jwtAuthService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	if !s.cfg.EnableVerification {
		// Development mode: the tenant comes from a header, no token needed.
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			return nil, "", fmt.Errorf("%w: %s header required when verification is disabled", ErrNoToken, TenantHeader)
		}
		return &Claims{TenantID: tenantID}, "", nil
	}

	token, err := extractBearerToken(r)
	if err != nil {
		return nil, "", err
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, "", ErrInvalidToken
	}

	return claims, token, nil
}

func (s *jwtAuthService) RequireTenantID(claims *Claims) error {
	if claims == nil || claims.TenantID == "" {
		return fmt.Errorf("%w: missing tenant claim", ErrInvalidToken)
	}
	if _, err := uuid.Parse(claims.TenantID); err != nil {
		return fmt.Errorf("%w: malformed tenant claim", ErrInvalidToken)
	}
	return nil
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
