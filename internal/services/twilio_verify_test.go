package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bondsnbeyond/internal/config"
)

func newTwilioServer(t *testing.T, handler http.HandlerFunc) *TwilioVerify {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTwilioVerify(config.Twilio{
		AccountSID:       "AC123",
		AuthToken:        "token",
		VerifyServiceSID: "VA456",
		BaseURL:          srv.URL + "/v2/",
	})
}

func TestTwilioStart(t *testing.T) {
	var gotPath, gotTo, gotUser string
	tw := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotTo = r.PostForm.Get("To")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})

	require.NoError(t, tw.Start(context.Background(), "+919876543210"))
	assert.Equal(t, "/v2/Services/VA456/Verifications", gotPath)
	assert.Equal(t, "+919876543210", gotTo)
	assert.Equal(t, "AC123", gotUser)
}

func TestTwilioStartError(t *testing.T) {
	tw := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid number"}`))
	})

	err := tw.Start(context.Background(), "+10000000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
}

func TestTwilioCheckOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   VerifyOutcome
	}{
		{"approved", http.StatusOK, `{"status":"approved"}`, VerifyApproved},
		{"pending", http.StatusOK, `{"status":"pending"}`, VerifyDeclined},
		{"gone", http.StatusNotFound, `{}`, VerifyDeclined},
		{"throttled", http.StatusTooManyRequests, `{}`, VerifyProviderUnavailable},
		{"down", http.StatusBadGateway, ``, VerifyProviderUnavailable},
		{"garbage", http.StatusOK, `not json`, VerifyProviderUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tw := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.True(t, strings.HasSuffix(r.URL.Path, "/VerificationCheck"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			got, _ := tw.Check(context.Background(), "+919876543210", "123456")
			assert.Equal(t, tc.want, got, got.String())
		})
	}
}

func TestTwilioUnreachableIsUnavailable(t *testing.T) {
	tw := NewTwilioVerify(config.Twilio{
		AccountSID:       "AC123",
		AuthToken:        "token",
		VerifyServiceSID: "VA456",
		BaseURL:          "http://127.0.0.1:1",
	})

	got, err := tw.Check(context.Background(), "+919876543210", "123456")
	assert.Error(t, err)
	assert.Equal(t, VerifyProviderUnavailable, got)
}

func TestTwilioNotConfigured(t *testing.T) {
	tw := NewTwilioVerify(config.Twilio{})
	assert.False(t, tw.Configured())
	assert.Error(t, tw.Start(context.Background(), "+919876543210"))
}
