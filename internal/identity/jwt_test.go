package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

func newTestService() *JWTService {
	return NewJWTService("test-signing-key", "aegis", "aegis-gateway")
}

func testIdentity() domain.Identity {
	return domain.Identity{
		Subject:  domain.SubjectID("agent-1"),
		Tenant:   domain.TenantID("tenant-1"),
		Roles:    []string{"operator"},
		Governor: true,
	}
}

func TestValidateToken_RoundTrip(t *testing.T) {
	svc := newTestService()

	expiry := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	want := testIdentity()
	want.TrialMode = true
	want.TrialExpiry = &expiry

	token, err := svc.GenerateAccessToken(want, time.Hour)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, want.Subject, got.Subject)
	assert.Equal(t, want.Tenant, got.Tenant)
	assert.Equal(t, want.Roles, got.Roles)
	assert.True(t, got.Governor)
	assert.True(t, got.TrialMode)
	require.NotNil(t, got.TrialExpiry)
	assert.True(t, expiry.Equal(*got.TrialExpiry))
}

func TestValidateToken_Expired(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateAccessToken(testIdentity(), -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired),
		"expired tokens must be distinct from invalid ones so callers can refresh")
}

func TestValidateToken_WrongKey(t *testing.T) {
	token, err := newTestService().GenerateAccessToken(testIdentity(), time.Hour)
	require.NoError(t, err)

	other := NewJWTService("different-key", "aegis", "aegis-gateway")
	_, err = other.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	issuer := NewJWTService("test-signing-key", "someone-else", "aegis-gateway")
	token, err := issuer.GenerateAccessToken(testIdentity(), time.Hour)
	require.NoError(t, err)

	_, err = newTestService().ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := newTestService().ValidateToken("not-a-token")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func TestValidateToken_MissingTenant(t *testing.T) {
	svc := newTestService()
	identity := testIdentity()
	identity.Tenant = ""

	token, err := svc.GenerateAccessToken(identity, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}
