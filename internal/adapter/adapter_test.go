package adapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postforge/autopost/internal/adapter"
	"github.com/postforge/autopost/internal/models"
)

func validRequest(platformID string) adapter.Request {
	return adapter.Request{
		Mode:        "live",
		RuleID:      uuid.New(),
		UserID:      uuid.New(),
		Platform:    platformID,
		Timezone:    "UTC",
		Intensity:   3,
		Cadence:     models.CadenceDaily,
		TimeSlots:   []string{"09:00"},
		PostsPerDay: 1,
	}
}

func TestLocalAdapterValidation(t *testing.T) {
	local := adapter.NewLocal("onlyfans")

	res, err := local.Dispatch(context.Background(), validRequest("onlyfans"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.PlatformPostID)

	req := validRequest("fansly")
	res, err = local.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodePlatformMismatch, res.ErrorCode)

	req = validRequest("onlyfans")
	req.TimeSlots = nil
	res, err = local.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodeInvalidTimeSlots, res.ErrorCode)

	req = validRequest("onlyfans")
	req.PostsPerDay = 0
	res, err = local.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodeInvalidPostsPerDay, res.ErrorCode)
}

func TestHandlerRejectsNonPost(t *testing.T) {
	h := adapter.NewHandler("onlyfans", adapter.NewLocal("onlyfans"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters/onlyfans", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerRequiresServiceToken(t *testing.T) {
	secret := []byte("adapter-secret")
	h := adapter.NewHandler("onlyfans", adapter.NewLocal("onlyfans"), secret)

	body, _ := json.Marshal(validRequest("onlyfans"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/adapters/onlyfans", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var res adapter.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.OK)
	assert.Equal(t, models.CodeUnauthenticated, res.ErrorCode)

	// With a valid token the same call succeeds.
	token, err := adapter.MintServiceToken(secret, "onlyfans", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/adapters/onlyfans", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceTokenAudienceBound(t *testing.T) {
	secret := []byte("adapter-secret")
	token, err := adapter.MintServiceToken(secret, "onlyfans", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, adapter.VerifyServiceToken(secret, "onlyfans", token))
	assert.Error(t, adapter.VerifyServiceToken(secret, "fansly", token))
	assert.Error(t, adapter.VerifyServiceToken([]byte("other"), "onlyfans", token))
}

func TestHTTPAdapterEnvelopePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ok": false, "error_code": "INVALID_TIME_SLOTS", "error_message": "empty"}`))
	}))
	defer srv.Close()

	a, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{Endpoint: srv.URL, Platform: "onlyfans"})
	require.NoError(t, err)

	res, err := a.Dispatch(context.Background(), validRequest("onlyfans"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodeInvalidTimeSlots, res.ErrorCode)
}

func TestHTTPAdapterUnparseableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>boom</html>`))
	}))
	defer srv.Close()

	a, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{Endpoint: srv.URL, Platform: "onlyfans"})
	require.NoError(t, err)

	res, err := a.Dispatch(context.Background(), validRequest("onlyfans"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodePlatformDispatchHTTPErr, res.ErrorCode)
}

func TestHTTPAdapterMissingOKField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with no explicit ok is ambiguous and must not count as success.
		_, _ = w.Write([]byte(`{"platform_post_id": "post-1"}`))
	}))
	defer srv.Close()

	a, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{Endpoint: srv.URL, Platform: "onlyfans"})
	require.NoError(t, err)

	res, err := a.Dispatch(context.Background(), validRequest("onlyfans"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, models.CodePlatformDispatchHTTPErr, res.ErrorCode)
}

func TestHTTPAdapterTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	a, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{
		Endpoint: srv.URL,
		Platform: "onlyfans",
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = a.Dispatch(context.Background(), validRequest("onlyfans"))
	assert.Error(t, err)
}

func TestHTTPAdapterSendsServiceToken(t *testing.T) {
	secret := []byte("adapter-secret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		require.True(t, len(authz) > 7)
		assert.NoError(t, adapter.VerifyServiceToken(secret, "onlyfans", authz[7:]))
		_, _ = w.Write([]byte(`{"ok": true, "platform_post_id": "post-1"}`))
	}))
	defer srv.Close()

	a, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{
		Endpoint:    srv.URL,
		Platform:    "onlyfans",
		TokenSecret: secret,
	})
	require.NoError(t, err)

	res, err := a.Dispatch(context.Background(), validRequest("onlyfans"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "post-1", res.PlatformPostID)
}
