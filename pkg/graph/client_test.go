package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticCredential satisfies azcore.TokenCredential without hitting Entra.
type staticCredential struct {
	calls int32
}

func (c *staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	atomic.AddInt32(&c.calls, 1)
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 3, Base: time.Millisecond, Strategy: Linear}
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(&staticCredential{}, Options{
		BaseURL: server.URL,
		Retry:   fastRetry(),
	})
	return client, &requests
}

func TestGetRetriesThrottledRequests(t *testing.T) {
	var attempts int32
	client, requests := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value": [{"id": "u1"}]}`))
	})

	resp, err := client.Get(context.Background(), "/v1.0/users")
	require.NoError(t, err)
	assert.Len(t, Items(resp), 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(requests))
}

func TestGetDetectsThrottleByBody(t *testing.T) {
	var attempts int32
	client, requests := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": {"message": "Request was throttled"}}`))
			return
		}
		w.Write([]byte(`{"value": []}`))
	})

	_, err := client.Get(context.Background(), "/v1.0/users")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(requests))
}

func TestGetExhaustsRetryBudget(t *testing.T) {
	client, requests := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Get(context.Background(), "/v1.0/users")
	require.ErrorIs(t, err, ErrRetryExhausted)

	// Initial attempt plus MaxRetries retries.
	assert.EqualValues(t, 4, atomic.LoadInt32(requests))
}

func TestGetDoesNotRetryServerErrors(t *testing.T) {
	client, requests := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "unexpected"}}`))
	})

	_, err := client.Get(context.Background(), "/v1.0/users")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.EqualValues(t, 1, atomic.LoadInt32(requests))
}

func TestGetClassifiesPermissionFailures(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "403", status: http.StatusForbidden, body: `{"error": {"message": "Insufficient privileges"}}`},
		{name: "license body", status: http.StatusBadRequest, body: `{"error": {"message": "Tenant is not licensed for this feature"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, requests := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := client.Get(context.Background(), "/v1.0/identityProtection/riskDetections")
			require.Error(t, err)
			assert.True(t, IsPermission(err))
			assert.NotEmpty(t, PermissionHint(err))
			assert.EqualValues(t, 1, atomic.LoadInt32(requests))
		})
	}
}

func TestPermissionHintForOtherErrors(t *testing.T) {
	assert.Empty(t, PermissionHint(nil))
	assert.Empty(t, PermissionHint(&APIError{Status: 500}))
}

func TestBearerTokenIsCached(t *testing.T) {
	cred := &staticCredential{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(cred, Options{BaseURL: server.URL, Retry: fastRetry()})
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "/v1.0/organization")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&cred.calls))
}

func TestRetryPolicyDelay(t *testing.T) {
	exp := RetryPolicy{MaxRetries: 4, Base: 2 * time.Second, Strategy: Exponential}
	assert.Equal(t, 2*time.Second, exp.Delay(1))
	assert.Equal(t, 4*time.Second, exp.Delay(2))
	assert.Equal(t, 8*time.Second, exp.Delay(3))

	lin := RetryPolicy{MaxRetries: 4, Base: 2 * time.Second, Strategy: Linear}
	assert.Equal(t, 2*time.Second, lin.Delay(1))
	assert.Equal(t, 4*time.Second, lin.Delay(2))
	assert.Equal(t, 6*time.Second, lin.Delay(3))
}

func TestThrottleBackOffHonorsRetryAfterHint(t *testing.T) {
	bo := &throttleBackOff{policy: RetryPolicy{MaxRetries: 2, Base: time.Second, Strategy: Linear}}
	bo.hint = 5 * time.Second

	// The server hint wins once, then the policy delay resumes.
	assert.Equal(t, 5*time.Second, bo.NextBackOff())
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2025 07:28:00 GMT"))
}
