package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/app"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/sdk/go/verifier"
)

const adminToken = "router-test-admin"

type client struct {
	t       *testing.T
	handler http.Handler
}

func newClient(t *testing.T) *client {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
server:
  admin_token: %s
database:
  driver: sqlite
  database: %s
keys:
  algorithm: ES256
crypto:
  key_encryption_secret: router-test-secret
`, adminToken, filepath.Join(dir, "credcore.db"))
	path := filepath.Join(dir, "credcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.LoadConfig(path, logger.NewNoopLogger())
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	return &client{t: t, handler: a.HTTP.Handler()}
}

func (c *client) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Session      struct {
		ID string `json:"id"`
	} `json:"session"`
}

func TestRouter_CredentialLifecycle(t *testing.T) {
	c := newClient(t)
	admin := []string{"Authorization", "Bearer " + adminToken}
	base := "/v1/owners/tenant/acme"

	// Key management requires the operator token.
	w := c.do(http.MethodPost, base+"/keys", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = c.do(http.MethodPost, base+"/keys", nil, admin...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var key struct {
		Kid string `json:"kid"`
	}
	decode(t, w, &key)

	w = c.do(http.MethodPost, base+"/keys", nil, admin...)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The JWKS document is public and revalidated by ETag.
	w = c.do(http.MethodGet, base+"/jwks.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, w.Body.String(), key.Kid)

	w = c.do(http.MethodGet, base+"/jwks.json", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)

	// Open, refresh and replay.
	w = c.do(http.MethodPost, base+"/sessions", map[string]interface{}{
		"subject_id": "alice",
		"claims":     map[string]string{"role": "admin"},
	}, admin...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first tokenPair
	decode(t, w, &first)
	assert.Equal(t, "Bearer", first.TokenType)

	w = c.do(http.MethodPost, base+"/sessions/refresh", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second tokenPair
	decode(t, w, &second)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	w = c.do(http.MethodPost, base+"/sessions/refresh", map[string]string{"refresh_token": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Replaying the old token contained the whole family.
	w = c.do(http.MethodPost, base+"/sessions/refresh", map[string]string{"refresh_token": second.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A fresh session is listed and revocable by its holder.
	w = c.do(http.MethodPost, base+"/sessions", map[string]string{"subject_id": "alice"}, admin...)
	require.Equal(t, http.StatusCreated, w.Code)
	var third tokenPair
	decode(t, w, &third)
	bearer := []string{"Authorization", "Bearer " + third.AccessToken}

	w = c.do(http.MethodGet, base+"/sessions/me", nil, bearer...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var listing struct {
		SubjectID string `json:"subject_id"`
		Total     int    `json:"total"`
	}
	decode(t, w, &listing)
	assert.Equal(t, "alice", listing.SubjectID)
	assert.Equal(t, 1, listing.Total)

	// Tokens of one owner are worthless for another.
	w = c.do(http.MethodGet, "/v1/owners/tenant/other/sessions/me", nil, bearer...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = c.do(http.MethodDelete, base+"/sessions/me", nil, bearer...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subject_id":"alice","revoked":1}`, w.Body.String())

	w = c.do(http.MethodPost, base+"/sessions/refresh", map[string]string{"refresh_token": third.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Rotation keeps the key list growing.
	w = c.do(http.MethodPost, base+"/keys/rotate", nil, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	w = c.do(http.MethodGet, base+"/keys", nil, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	var keys struct {
		Total int `json:"total"`
	}
	decode(t, w, &keys)
	assert.Equal(t, 2, keys.Total)
}

func TestRouter_RevokeOwnSessionIsIdempotent(t *testing.T) {
	c := newClient(t)
	admin := []string{"Authorization", "Bearer " + adminToken}
	base := "/v1/owners/tenant/acme"

	w := c.do(http.MethodPost, base+"/keys", nil, admin...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	open := func(subject string) tokenPair {
		w := c.do(http.MethodPost, base+"/sessions", map[string]string{"subject_id": subject}, admin...)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var pair tokenPair
		decode(t, w, &pair)
		return pair
	}
	a, b := open("alice"), open("alice")
	bob := open("bob")
	bearer := []string{"Authorization", "Bearer " + a.AccessToken}

	for i := 0; i < 2; i++ {
		w = c.do(http.MethodDelete, base+"/sessions/me/"+b.Session.ID, nil, bearer...)
		assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	}

	w = c.do(http.MethodDelete, base+"/sessions/me/"+bob.Session.ID, nil, bearer...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = c.do(http.MethodGet, base+"/sessions/me", nil, bearer...)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Total int `json:"total"`
	}
	decode(t, w, &listing)
	assert.Equal(t, 1, listing.Total)

	w = c.do(http.MethodPost, base+"/sessions/refresh", map[string]string{"refresh_token": bob.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code, "the other subject's session is untouched")
}

func TestRouter_InvalidOwner(t *testing.T) {
	c := newClient(t)
	w := c.do(http.MethodGet, "/v1/owners/user/acme/jwks.json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	c := newClient(t)

	w := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"database"`)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/livez", nil).Code)

	w = c.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "credcore_http_requests_total")

	w = c.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", func() string {
		var body map[string]string
		decode(t, w, &body)
		return body["error"]
	}())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_SDKVerifiesIssuedTokens(t *testing.T) {
	c := newClient(t)
	admin := []string{"Authorization", "Bearer " + adminToken}
	base := "/v1/owners/application/billing"

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/keys", nil, admin...).Code)
	w := c.do(http.MethodPost, base+"/sessions", map[string]interface{}{
		"subject_id": "svc-7",
		"claims":     map[string]string{"scope": "invoices:read"},
	}, admin...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pair tokenPair
	decode(t, w, &pair)

	srv := httptest.NewServer(c.handler)
	defer srv.Close()

	v, err := verifier.New(srv.URL, "application", "billing")
	require.NoError(t, err)
	claims, err := v.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "svc-7", claims.Subject)
	assert.Equal(t, "issuer:application:billing", claims.Issuer)
	assert.Equal(t, pair.Session.ID, claims.SessionID)
	assert.Equal(t, "invoices:read", claims.Custom["scope"])

	other, err := verifier.New(srv.URL, "application", "payroll")
	require.NoError(t, err)
	_, err = other.Verify(context.Background(), pair.AccessToken)
	assert.Error(t, err)
}
