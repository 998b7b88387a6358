package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code Code
		http int
		grpc codes.Code
	}{
		{ErrCodeNotFound, http.StatusNotFound, codes.NotFound},
		{ErrCodeInvalidState, http.StatusConflict, codes.FailedPrecondition},
		{ErrCodeValidation, http.StatusBadRequest, codes.InvalidArgument},
		{ErrCodeConcurrencyConflict, http.StatusPreconditionFailed, codes.Aborted},
		{ErrCodeForbidden, http.StatusForbidden, codes.PermissionDenied},
		{ErrCodeInternal, http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.http {
			t.Fatalf("%s: expected http %d, got %d", tt.code, tt.http, got)
		}
		if got := tt.code.GRPCCode(); got != tt.grpc {
			t.Fatalf("%s: expected grpc %s, got %s", tt.code, tt.grpc, got)
		}
	}
}

func TestWrapKeepsInnerCodeForInternal(t *testing.T) {
	inner := NotFound("workflow", "wf-1")
	wrapped := Wrap(fmt.Errorf("load: %w", inner), ErrCodeInternal, "failed to load workflow")

	if CodeOf(wrapped) != ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", CodeOf(wrapped))
	}
	if !stderrors.Is(wrapped, inner) {
		t.Fatal("expected wrapped error to unwrap to inner")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Fatal("expected nil")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(stderrors.New("boom")) != ErrCodeInternal {
		t.Fatal("expected plain errors to map to INTERNAL")
	}
	if Is(nil, ErrCodeInternal) {
		t.Fatal("nil must not match any code")
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(Conflict("level", "l-1")); !strings.Contains(msg, "please retry") {
		t.Fatalf("expected retry message, got %q", msg)
	}
	if msg := UserMessage(Finalized("wf-1", "approved")); !strings.Contains(msg, "already finalized") {
		t.Fatalf("expected finalized message, got %q", msg)
	}
	if msg := UserMessage(stderrors.New("pq: connection refused")); msg != "internal error" {
		t.Fatalf("expected internal errors to be masked, got %q", msg)
	}
}

func TestInvalidInputMessage(t *testing.T) {
	err := InvalidInput("summary", "summary is required")
	if err.Error() != "summary: summary is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
