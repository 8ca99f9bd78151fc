package linkval_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkval"
	"linkval/internal/httpfetch"
)

func TestDefaultLinkValidator_ValidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 1,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultValid, result.Kind)
	assert.Equal(t, 200, result.StatusCode)
}

func TestDefaultLinkValidator_TerminalStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 2,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultInvalid, result.Kind)
	assert.Equal(t, 403, result.StatusCode)
}

func TestDefaultLinkValidator_RetryableStatusWithAttemptsLeft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 2,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultRetry, result.Kind)
	assert.Equal(t, 503, result.StatusCode)

	wait := result.RetryAtEpochMs - time.Now().UnixMilli()
	assert.InDelta(t, 5000, wait, 1000)
}

func TestDefaultLinkValidator_RetryableStatusExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 1,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultInvalid, result.Kind)
	assert.Equal(t, 503, result.StatusCode)
}

func TestDefaultLinkValidator_RetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(20 * time.Second).UTC().Format(http.TimeFormat)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", future)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 2,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultRetry, result.Kind)

	wait := result.RetryAtEpochMs - time.Now().UnixMilli()
	assert.InDelta(t, 20000, wait, 1500)
}

func TestDefaultLinkValidator_RetryAfterCappedAt120s(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "99999")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 2,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)

	wait := result.RetryAtEpochMs - time.Now().UnixMilli()
	assert.InDelta(t, 120000, wait, 1000)
}

func TestDefaultLinkValidator_NetworkErrorTerminal(t *testing.T) {
	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink("http://127.0.0.1:1"),
		Group:        testGroup(),
		AttemptsLeft: 1,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultInvalid, result.Kind)
	assert.Equal(t, linkval.StatusNetworkError, result.StatusCode)
}

func TestDefaultLinkValidator_MovedPermanentlyIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	client := httpfetch.NewClient(5 * time.Second)
	v := linkval.NewDefaultLinkValidator(client)

	req := linkval.ValidationRequest{
		Link:         linkval.NewResolvedLink(server.URL),
		Group:        testGroup(),
		AttemptsLeft: 2,
	}
	result, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, linkval.ResultRetry, result.Kind)
}

func testGroup() *linkval.LinkGroup {
	return &linkval.LinkGroup{
		Pattern:           regexp.MustCompile(".*"),
		FragmentValidator: linkval.DefaultFragmentValidator(),
		RateLimit:         linkval.NoRateLimit(),
		Stats:             &linkval.LinkGroupStats{},
	}
}
