// Package identity handles access token validation and claim extraction.
// Tokens are HS256-signed bearer tokens carrying the subject, tenant, roles,
// and the governor/trial flags the policy stage depends on.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Claims represents the JWT claims for gateway access tokens. The registered
// Subject claim carries the agent id.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles"`
	Governor    bool     `json:"governor,omitempty"`
	TrialMode   bool     `json:"trial_mode,omitempty"`
	TrialExpiry *int64   `json:"trial_expiry,omitempty"` // unix seconds
	jwt.RegisteredClaims
}

// JWTService handles token validation and, for tests and tooling, creation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewJWTService constructs a JWTService with the given HMAC signing key.
func NewJWTService(signingKey, issuer, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// ValidateToken verifies signature and expiry and returns the caller identity.
// Expired tokens yield CodeTokenExpired, everything else CodeUnauthenticated:
// the distinction lets callers auto-refresh instead of re-authenticating.
func (s *JWTService) ValidateToken(tokenString string) (domain.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
		}
		return domain.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token claims")
	}

	subject, err := domain.ParseSubjectID(claims.Subject)
	if err != nil {
		return domain.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "token missing subject")
	}
	tenant, err := domain.ParseTenantID(claims.TenantID)
	if err != nil {
		return domain.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "token missing tenant")
	}

	identity := domain.Identity{
		Subject:   subject,
		Tenant:    tenant,
		Roles:     claims.Roles,
		Governor:  claims.Governor,
		TrialMode: claims.TrialMode,
	}
	if claims.TrialExpiry != nil {
		expiry := time.Unix(*claims.TrialExpiry, 0)
		identity.TrialExpiry = &expiry
	}
	return identity, nil
}

// GenerateAccessToken mints a signed token for the given identity. The
// gateway itself never issues tokens in production (the identity provider
// does); this exists for tests and local tooling.
func (s *JWTService) GenerateAccessToken(identity domain.Identity, expiresIn time.Duration) (string, error) {
	claims := Claims{
		TenantID:  identity.Tenant.String(),
		Roles:     identity.Roles,
		Governor:  identity.Governor,
		TrialMode: identity.TrialMode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
		},
	}
	if identity.TrialExpiry != nil {
		unix := identity.TrialExpiry.Unix()
		claims.TrialExpiry = &unix
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}
