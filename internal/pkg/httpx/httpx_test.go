package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusOK, false},
	}
	for _, c := range cases {
		if got := IsRetryableHTTPStatus(c.code); got != c.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatalf("nil error must not be retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must be retryable")
	}
	if !IsRetryableError(statusErr(http.StatusServiceUnavailable)) {
		t.Fatalf("503 must be retryable")
	}
	if IsRetryableError(statusErr(http.StatusUnprocessableEntity)) {
		t.Fatalf("422 must not be retryable")
	}
	if IsRetryableError(fmt.Errorf("plain failure")) {
		t.Fatalf("unclassified error must not be retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	if got := RetryAfterDuration(nil, time.Second, 10*time.Second); got != time.Second {
		t.Fatalf("no response: got %v, want fallback", got)
	}

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 3*time.Second {
		t.Fatalf("delay-seconds: got %v, want 3s", got)
	}

	resp.Header.Set("Retry-After", time.Now().Add(4*time.Second).UTC().Format(http.TimeFormat))
	got := RetryAfterDuration(resp, time.Second, 10*time.Second)
	if got < 2*time.Second || got > 4*time.Second {
		t.Fatalf("http-date: got %v, want about 4s", got)
	}

	resp.Header.Set("Retry-After", "120")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("cap: got %v, want 10s", got)
	}

	resp.Header.Set("Retry-After", "garbage")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != time.Second {
		t.Fatalf("unparseable header: got %v, want fallback", got)
	}
}

func TestJitterSleep(t *testing.T) {
	if got := JitterSleep(0); got != 0 {
		t.Fatalf("zero base: got %v, want 0", got)
	}
	if got := JitterSleep(-time.Second); got != 0 {
		t.Fatalf("negative base: got %v, want 0", got)
	}
	base := time.Second
	for i := 0; i < 100; i++ {
		got := JitterSleep(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}
}
