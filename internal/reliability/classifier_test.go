package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatalf("nil error classified as retryable")
	}
	if IsRetryableError(context.Canceled) || IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("context errors must not be retried")
	}
	if IsRetryableError(errors.New("schema mismatch")) {
		t.Fatalf("plain error classified as retryable")
	}

	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if !IsRetryableError(netErr) {
		t.Fatalf("net.Error not classified as retryable")
	}
	if !IsRetryableError(fmt.Errorf("embed: %w", netErr)) {
		t.Fatalf("wrapped net.Error not classified as retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
