package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/autoref/internal/errors"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &rec.body))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	return c, rec
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"code":200,"message":"ok","data":{"token":"T"}}`)

	resp, err := c.Register(context.Background(), "a@b.c", "pw", "")
	require.NoError(t, err)

	assert.Equal(t, "T", resp.Data.Token)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, PathRegister, rec.path)
	assert.Empty(t, rec.auth)
	assert.Equal(t, "a@b.c", rec.body["email"])
	assert.Equal(t, "pw", rec.body["password"])
	assert.NotContains(t, rec.body, "referral_code", "empty referrer is omitted")
}

func TestCreateProfile(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"code":200,"message":"saved"}`)

	_, err := c.CreateProfile(context.Background(), "T", ProfileStep{Step: StepDescription, Description: "AI Startup"})
	require.NoError(t, err)

	assert.Equal(t, PathProfile, rec.path)
	assert.Equal(t, "Bearer T", rec.auth)
	assert.Equal(t, "description", rec.body["step"])
	assert.Equal(t, "AI Startup", rec.body["description"])
	assert.NotContains(t, rec.body, "username")
}

func TestReferralInfo(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"code":200,"data":{"is_referral_active":true,"referral_code":"ABC123"}}`)

	resp, err := c.ReferralInfo(context.Background(), "T")
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, PathReferral, rec.path)
	assert.True(t, resp.Data.IsReferralActive)
	assert.Equal(t, "ABC123", resp.Data.ReferralCode)
}

func TestConfirmReferral(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		response   string
		wantCode   int
		wantToken  string
		wantUserID string
		wantError  string
	}{
		{
			name:       "accepted",
			status:     http.StatusOK,
			response:   `{"code":200,"message":"Referral applied","data":{"token":"T2","user_id":"U1"}}`,
			wantCode:   200,
			wantToken:  "T2",
			wantUserID: "U1",
		},
		{
			name:       "numeric user id",
			status:     http.StatusOK,
			response:   `{"code":200,"data":{"token":"T2","user_id":12345}}`,
			wantCode:   200,
			wantToken:  "T2",
			wantUserID: "12345",
		},
		{
			name:      "rejected with 400 still decoded",
			status:    http.StatusBadRequest,
			response:  `{"code":400,"error":"invalid code"}`,
			wantCode:  400,
			wantError: "invalid code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newServer(t, tt.status, tt.response)

			resp, err := c.ConfirmReferral(context.Background(), "T", "ABC123")
			require.NoError(t, err)

			assert.Equal(t, PathConfirmReferral, rec.path)
			assert.Equal(t, "Bearer T", rec.auth)
			assert.Equal(t, "ABC123", rec.body["referral_code"])
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantToken, resp.Data.Token)
			assert.Equal(t, tt.wantUserID, string(resp.Data.UserID))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestUndecodableResponse(t *testing.T) {
	c, _ := newServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)

	_, err := c.Register(context.Background(), "a@b.c", "pw", "")
	require.Error(t, err)

	var remoteErr *errors.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, OpRegister, remoteErr.Op)
	assert.Equal(t, http.StatusBadGateway, remoteErr.Status)
	assert.Equal(t, "<html>bad gateway</html>", remoteErr.Body)
	assert.True(t, errors.IsRetryable(err))
}

func TestFlexString_Null(t *testing.T) {
	var f FlexString = "x"
	require.NoError(t, json.Unmarshal([]byte("null"), &f))
	assert.Equal(t, FlexString(""), f)
	assert.Error(t, json.Unmarshal([]byte("{}"), &f))
}
