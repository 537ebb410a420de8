package storeerr

import (
	"context"
	"errors"
	"testing"
)

func TestRetryableDefaults(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindNetworkTimeout, true},
		{KindNetworkNoConnection, true},
		{KindNetworkDNS, true},
		{KindNetworkTLS, false},
		{KindPersistenceTransactionConflict, true},
		{KindPersistenceDatabaseLocked, true},
		{KindPersistenceDiskFull, false},
		{KindPersistencePermissionDenied, false},
		{KindValidation, false},
		{KindNotFound, false},
		{KindSerialization, false},
		{KindConfiguration, false},
		{KindRateLimited, true},
		{KindUnknown, true},
	}
	for _, c := range cases {
		got := New(c.kind, "msg", nil).Retryable()
		if got != c.want {
			t.Errorf("Kind %v: Retryable() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestHTTPStatusRetryability(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
		{401, false},
	}
	for _, c := range cases {
		got := NewHTTP(c.status, "msg", nil).Retryable()
		if got != c.want {
			t.Errorf("status %d: Retryable() = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := New(KindPersistenceWrite, "writing key", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("errors.Is did not find wrapped cause")
	}
}

func TestIsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !IsCancellation(ctx.Err()) {
		t.Fatalf("expected context.Canceled to be recognized as cancellation")
	}
	if IsCancellation(errors.New("not cancellation")) {
		t.Fatalf("unexpected cancellation classification")
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("ns/type/id-1")
	if err.Kind != KindNotFound {
		t.Fatalf("Kind = %v, want KindNotFound", err.Kind)
	}
	if err.Retryable() {
		t.Fatalf("NotFound should not be retryable")
	}
}
