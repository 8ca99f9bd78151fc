package linkval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// retryableStatuses is the set of HTTP status codes that trigger a
// scheduled retry rather than immediate terminal failure.
var retryableStatuses = map[int]bool{
	301: true,
	429: true,
	500: true,
	501: true,
	502: true,
	503: true,
	504: true,
}

const (
	defaultRetryDelay = 10 * time.Second
	maxRetryAfter     = 120 * time.Second
)

// LinkValidator executes a single ValidationRequest: one HTTP attempt
// plus classification of its outcome.
type LinkValidator interface {
	Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error)
}

// DefaultLinkValidator is the standard LinkValidator: acquires a rate
// limit credit, issues a GET, classifies the outcome per the engine's
// status table, and records it into the request's group stats.
type DefaultLinkValidator struct {
	Client HttpClient
}

// NewDefaultLinkValidator builds a DefaultLinkValidator using client to
// issue requests.
func NewDefaultLinkValidator(client HttpClient) *DefaultLinkValidator {
	return &DefaultLinkValidator{Client: client}
}

func (v *DefaultLinkValidator) Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	group := req.Group
	if err := group.RateLimit.Acquire(ctx); err != nil {
		return ValidationResult{}, fmt.Errorf("linkval: acquiring rate limit credit: %w", err)
	}

	method := http.MethodGet

	resp, err := v.Client.Do(ctx, method, req.Link.ResolvedURI, group.Headers)
	if err != nil {
		return v.classifyNetworkError(req, err), nil
	}

	group.Stats.Record(resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result, err := group.FragmentValidator.Validate(req.Link, resp)
		if err != nil {
			return ValidationResult{}, err
		}
		result.Request = req
		return result, nil
	}

	if resp.StatusCode == http.StatusMovedPermanently || retryableStatuses[resp.StatusCode] {
		return v.scheduleRetry(req, resp), nil
	}

	return Invalid(req, resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode)), nil
}

// classifyNetworkError handles failures that never produced an HTTP
// response: DNS, TLS, connect, or read-timeout faults are retryable if
// attempts remain, terminal otherwise.
func (v *DefaultLinkValidator) classifyNetworkError(req ValidationRequest, err error) ValidationResult {
	if !isRetryableNetworkError(err) || req.AttemptsLeft <= 1 {
		return Invalid(req, StatusNetworkError, err.Error())
	}
	retryAt := time.Now().Add(defaultRetryDelay).UnixMilli()
	return Retry(req, StatusNetworkError, err.Error(), retryAt)
}

// isRetryableNetworkError reports whether err represents a transient
// network condition (as opposed to e.g. a malformed request URL).
func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// scheduleRetry converts a retryable HTTP status into either a Retry
// result (attempts remain) or a terminal Invalid (attempts exhausted),
// honoring any Retry-After header on the response.
func (v *DefaultLinkValidator) scheduleRetry(req ValidationRequest, resp *Response) ValidationResult {
	message := fmt.Sprintf("retryable status %d", resp.StatusCode)
	if req.AttemptsLeft <= 1 {
		return Invalid(req, resp.StatusCode, message)
	}
	delay := retryAfterDelay(resp.Header.Get("Retry-After"))
	retryAt := time.Now().Add(delay).UnixMilli()
	return Retry(req, resp.StatusCode, message, retryAt)
}

// retryAfterDelay parses a Retry-After header value, which may be an
// integer number of seconds or an HTTP-date, capping the result at
// maxRetryAfter and defaulting to defaultRetryDelay when absent or
// unparsable.
func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return defaultRetryDelay
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		if d < 0 {
			return defaultRetryDelay
		}
		return d
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		return d
	}
	return defaultRetryDelay
}
