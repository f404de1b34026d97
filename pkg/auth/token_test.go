package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "packfinderz", ExpirationMinutes: 30, Leeway: 5 * time.Second}

func verifier(t *testing.T, cfg config.JWTConfig) *Verifier {
	t.Helper()
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	return v
}

func TestIssueAndVerifyShopToken(t *testing.T) {
	subject, shopID := uuid.New(), uuid.New()
	token, err := Issue(testCfg, time.Now(), AccessTokenPayload{Subject: subject, ShopID: &shopID, Role: enums.ActorRoleShop})
	require.NoError(t, err)

	claims, err := verifier(t, testCfg).Verify(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ShopID)
	assert.Equal(t, shopID, *claims.ShopID)
	assert.Equal(t, enums.ActorRoleShop, claims.Role)
	assert.NotEmpty(t, claims.ID)

	got, err := claims.SubjectID()
	require.NoError(t, err)
	assert.Equal(t, subject, got)
}

func TestIssueRejectsBadActors(t *testing.T) {
	_, err := Issue(testCfg, time.Now(), AccessTokenPayload{Subject: uuid.New(), Role: enums.ActorRoleShop})
	assert.ErrorIs(t, err, ErrShopRequired)

	_, err = Issue(testCfg, time.Now(), AccessTokenPayload{Subject: uuid.New(), Role: enums.ActorRole("admin")})
	assert.Error(t, err)

	_, err = Issue(config.JWTConfig{Issuer: "x", ExpirationMinutes: 1}, time.Now(), AccessTokenPayload{Role: enums.ActorRoleDriver})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerifyRejectsExpiredBeyondLeeway(t *testing.T) {
	v := verifier(t, testCfg)

	justExpired, err := Issue(testCfg, time.Now().Add(-30*time.Minute-2*time.Second), AccessTokenPayload{Subject: uuid.New(), Role: enums.ActorRoleOperator})
	require.NoError(t, err)
	_, err = v.Verify(justExpired)
	assert.NoError(t, err)

	stale, err := Issue(testCfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{Subject: uuid.New(), Role: enums.ActorRoleOperator})
	require.NoError(t, err)
	_, err = v.Verify(stale)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	token, err := Issue(testCfg, time.Now(), AccessTokenPayload{Subject: uuid.New(), Role: enums.ActorRoleDriver})
	require.NoError(t, err)

	otherSecret := testCfg
	otherSecret.Secret = "different"
	_, err = verifier(t, otherSecret).Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"
	_, err = verifier(t, otherIssuer).Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, AccessTokenClaims{
		Role: enums.ActorRoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testCfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)
	_, err = verifier(t, testCfg).Verify(hs512)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = NewVerifier(config.JWTConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}
