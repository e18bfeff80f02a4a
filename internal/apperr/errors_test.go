package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := PreconditionFailed("pool is not accepting members")
	wrapped := fmt.Errorf("join: %w", base)

	if got := KindOf(wrapped); got != KindPreconditionFailed {
		t.Fatalf("expected %s, got %s", KindPreconditionFailed, got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected internal for foreign error, got %s", got)
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", RateLimited("joinPool"))
	if !errors.Is(err, RateLimited("")) {
		t.Fatal("expected rate limited match regardless of message")
	}
	if errors.Is(err, PermissionDenied("")) {
		t.Fatal("expected no match for a different kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:         http.StatusBadRequest,
		KindNotFound:           http.StatusNotFound,
		KindPreconditionFailed: http.StatusPreconditionFailed,
		KindAlreadyExists:      http.StatusConflict,
		KindPermissionDenied:   http.StatusForbidden,
		KindRateLimited:        http.StatusTooManyRequests,
		KindConflict:           http.StatusServiceUnavailable,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := kind.HTTPStatus(); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestWithMetaAndCause(t *testing.T) {
	cause := errors.New("deadlock")
	err := Conflict("join transaction", cause).WithMeta("pool_id", "7", "user_id", "u1")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Meta["pool_id"] != "7" || err.Meta["user_id"] != "u1" {
		t.Fatalf("unexpected meta %v", err.Meta)
	}
	if err.Error() != "join transaction: deadlock" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
