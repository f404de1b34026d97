package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-pools/pkg/auth"
	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func mintTestToken(t *testing.T, role enums.ActorRole, shopID *uuid.UUID) string {
	t.Helper()
	token, err := auth.Issue(testJWT, time.Now(), auth.AccessTokenPayload{
		Subject: uuid.New(),
		ShopID:  shopID,
		Role:    role,
	})
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsActor(t *testing.T) {
	shopID := uuid.New()
	token := mintTestToken(t, enums.ActorRoleShop, &shopID)

	var captured Actor
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, enums.ActorRoleShop, captured.Role)
	require.NotNil(t, captured.ShopID)
	assert.Equal(t, shopID, *captured.ShopID)
	assert.NotEqual(t, uuid.Nil, captured.SubjectID)
}

func TestRequireRole(t *testing.T) {
	shopID := uuid.New()
	chain := func() http.Handler {
		return Auth(testJWT, nil)(RequireRole(nil, enums.ActorRoleOperator)(okHandler()))
	}

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"operator allowed", mintTestToken(t, enums.ActorRoleOperator, nil), http.StatusOK},
		{"shop forbidden", mintTestToken(t, enums.ActorRoleShop, &shopID), http.StatusForbidden},
		{"driver forbidden", mintTestToken(t, enums.ActorRoleDriver, nil), http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		resp := httptest.NewRecorder()
		chain().ServeHTTP(resp, req)
		assert.Equal(t, tc.want, resp.Code, tc.name)
	}
}

func TestRequireRoleWithoutAuthIsUnauthorized(t *testing.T) {
	resp := httptest.NewRecorder()
	RequireRole(nil, enums.ActorRoleOperator)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
