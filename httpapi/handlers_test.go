package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "Str0ng!Passw0rd123"
	testMemberID      = "member-1"
	testMemberPass    = "An0ther!Passw0rd9"
)

func newTestServer(t *testing.T) (*httptest.Server, *shadowmesh.Engine) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := shadowmesh.DefaultConfig()
	cfg.Argon2.Memory = 8 * 1024
	cfg.Argon2.Time = 1
	cfg.Argon2.Parallelism = 1
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Derive.AppSalt = "httpapi-test-salt"
	cfg.Audit.Enabled = false

	engine, err := shadowmesh.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPublicBaseURL("https://app.example.com").
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	require.NoError(t, engine.RegisterAdmin(context.Background(), testAdminEmail, testAdminPassword))
	require.NoError(t, engine.RegisterMember(context.Background(), testMemberID, testMemberPass))

	handler := NewHandler(engine, zap.NewNop())
	server := httptest.NewServer(NewRouter(handler, zap.NewNop()))
	t.Cleanup(server.Close)
	return server, engine
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAdminLoginEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, false, body["requires2FA"])
}

func TestAdminLoginWrongPassword(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    testAdminEmail,
		"password": "Wrong!Passw0rd123",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid credentials", body["error"])
}

func TestAdminLoginUnknownAccountSameError(t *testing.T) {
	server, _ := newTestServer(t)

	_, wrongPass := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    testAdminEmail,
		"password": "Wrong!Passw0rd123",
	}, nil)
	_, unknown := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "Wrong!Passw0rd123",
	}, nil)
	// Indistinguishable responses for wrong password and missing account.
	assert.Equal(t, wrongPass["error"], unknown["error"])
}

func TestAdminLoginMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/login", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminLoginMissingFields(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email": testAdminEmail,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminLockoutSurfacesMinutesRemaining(t *testing.T) {
	server, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		resp, _ := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
			"email":    testAdminEmail,
			"password": "Wrong!Passw0rd123",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, body := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "locked")
}

func TestTwoFactorSetupRequiresBearer(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/api/v1/admin/2fa/setup", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, server.URL+"/api/v1/admin/2fa/setup", map[string]string{}, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTwoFactorSetupWithSession(t *testing.T) {
	server, _ := newTestServer(t)

	_, login := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	}, nil)
	token, _ := login["token"].(string)
	require.NotEmpty(t, token)

	resp, body := postJSON(t, server.URL+"/api/v1/admin/2fa/setup", map[string]string{}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["secret"])
	assert.Contains(t, body["provisioningUri"], "otpauth://totp/")
}

func TestMemberSessionRejectedOnAdminSurface(t *testing.T) {
	server, _ := newTestServer(t)

	_, login := postJSON(t, server.URL+"/api/v1/members/login", map[string]string{
		"email":    testMemberID,
		"password": testMemberPass,
	}, nil)
	token, _ := login["token"].(string)
	require.NotEmpty(t, token)

	resp, _ := postJSON(t, server.URL+"/api/v1/admin/2fa/setup", map[string]string{}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResetRequestGenericShape(t *testing.T) {
	server, _ := newTestServer(t)

	_, existing := postJSON(t, server.URL+"/api/v1/admin/password-reset/request", map[string]string{
		"email": testAdminEmail,
	}, nil)
	_, missing := postJSON(t, server.URL+"/api/v1/admin/password-reset/request", map[string]string{
		"email": "ghost@example.com",
	}, nil)
	assert.Equal(t, existing, missing)
}

func TestBackupOTPRateLimit(t *testing.T) {
	server, engine := newTestServer(t)

	var last *http.Response
	for i := 0; i < 6; i++ {
		last, _ = postJSON(t, server.URL+"/api/v1/members/2fa/send-otp", map[string]string{
			"email": testMemberID,
		}, nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotZero(t, engine.MetricsSnapshot()["rate_limited"])
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot map[string]uint64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, "login_success")
}

func TestUnknownEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMemberVerifyWithoutTwoFactor(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/api/v1/members/2fa/verify", map[string]string{
		"memberId": testMemberID,
		"code":     "123456",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// memberTOTPCode derives the current code from the base32 secret handed
// out by the setup endpoint, optionally offset by whole periods.
func memberTOTPCode(t *testing.T, secret string, offset int) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	require.NoError(t, err)

	counter := time.Now().Unix()/30 + int64(offset)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff) % 1_000_000
	return fmt.Sprintf("%06d", code)
}

func TestMemberVerifyIssuesTokenForSessionSurface(t *testing.T) {
	server, _ := newTestServer(t)

	_, login := postJSON(t, server.URL+"/api/v1/members/login", map[string]string{
		"email":    testMemberID,
		"password": testMemberPass,
	}, nil)
	firstToken, _ := login["token"].(string)
	require.NotEmpty(t, firstToken)

	auth := map[string]string{"Authorization": "Bearer " + firstToken}
	resp, setup := postJSON(t, server.URL+"/api/v1/members/2fa/setup", map[string]string{}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret, _ := setup["secret"].(string)
	require.NotEmpty(t, secret)

	resp, _ = postJSON(t, server.URL+"/api/v1/members/2fa/enable", map[string]string{
		"secret": secret,
		"code":   memberTOTPCode(t, secret, 0),
	}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// With 2FA enabled the login withholds the token.
	resp, login = postJSON(t, server.URL+"/api/v1/members/login", map[string]string{
		"email":    testMemberID,
		"password": testMemberPass,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, login["requires2FA"])
	assert.Empty(t, login["token"])

	// The next period's code clears the replay guard left by enable.
	resp, verify := postJSON(t, server.URL+"/api/v1/members/2fa/verify", map[string]string{
		"memberId": testMemberID,
		"code":     memberTOTPCode(t, secret, 1),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionToken, _ := verify["token"].(string)
	require.NotEmpty(t, sessionToken)

	// The issued token opens the session-gated member surface.
	resp, _ = postJSON(t, server.URL+"/api/v1/members/2fa/disable", map[string]string{}, map[string]string{
		"Authorization": "Bearer " + sessionToken,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
