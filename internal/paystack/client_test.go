package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "sk_test", zap.NewNop())
	c.httpClient.RetryWaitMin = time.Millisecond
	c.httpClient.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestInitialize_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 150000, body["amount"])
		assert.Equal(t, "dabil_1_abc", body["reference"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{
			"authorization_url":"https://checkout.paystack.com/x","access_code":"x","reference":"dabil_1_abc"}}`))
	}))
	defer ts.Close()

	auth, err := newTestClient(ts.URL).Initialize(context.Background(), InitializeRequest{
		Email:     "ada@example.com",
		Amount:    decimal.NewFromInt(1500),
		Reference: "dabil_1_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/x", auth.AuthorizationURL)
	assert.Equal(t, "dabil_1_abc", auth.Reference)
}

func TestInitialize_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Initialize(context.Background(), InitializeRequest{
		Email: "ada@example.com", Amount: decimal.NewFromInt(100), Reference: "r",
	})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestInitialize_NotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Initialize(context.Background(), InitializeRequest{
		Email: "ada@example.com", Amount: decimal.NewFromInt(100), Reference: "r",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.EqualValues(t, 1, calls.Load())
}

func TestVerify_UnknownReference(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Verify(context.Background(), "dabil_1_gone")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "Transaction reference not found")
	assert.EqualValues(t, 1, calls.Load())
}

func TestVerify_ServerDownIsNotRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Verify(context.Background(), "r")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestVerify_ConvertsFromKobo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/dabil_1_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"success","reference":"dabil_1_abc","amount":150050}}`))
	}))
	defer ts.Close()

	v, err := newTestClient(ts.URL).Verify(context.Background(), "dabil_1_abc")
	require.NoError(t, err)
	assert.True(t, v.Succeeded())
	assert.True(t, v.Amount.Equal(decimal.RequireFromString("1500.50")))
}

func TestVerify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"failed","reference":"r","amount":100}}`))
	}))
	defer ts.Close()

	v, err := newTestClient(ts.URL).Verify(context.Background(), "r")
	require.NoError(t, err)
	assert.False(t, v.Succeeded())
	assert.EqualValues(t, 2, calls.Load())
}

func TestNotConfigured(t *testing.T) {
	c := NewClient("", "", nil)
	_, err := c.Verify(context.Background(), "r")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifySignature(t *testing.T) {
	c := NewClient("", "sk_test", nil)
	body := []byte(`{"event":"charge.success"}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifySignature(body, sig))
	assert.False(t, c.VerifySignature(body, "deadbeef"))
	assert.False(t, c.VerifySignature([]byte(`{}`), sig))
	assert.False(t, c.VerifySignature(body, ""))
}

func TestKoboConversion(t *testing.T) {
	assert.EqualValues(t, 10001, ToKobo(decimal.RequireFromString("100.01")))
	assert.True(t, FromKobo(250).Equal(decimal.RequireFromString("2.5")))
}
