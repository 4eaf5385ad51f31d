package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	with := ErrInvalidLink.WithInternal(stdErrors.New("expired"))

	if with == ErrInvalidLink {
		t.Fatal("expected WithInternal to return a copy")
	}
	if ErrInvalidLink.Internal != nil {
		t.Fatal("expected shared sentinel to remain unchanged")
	}
	if with.Message != ErrInvalidLink.Message {
		t.Fatalf("expected message to be preserved, got %s", with.Message)
	}
}

func TestFromErrorUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrForbidden)
	if out := FromError(wrapped); out != ErrForbidden {
		t.Fatal("expected FromError to find the AppError inside the chain")
	}

	out := FromError(stdErrors.New("raw"))
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}

	if FromError(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
}

func TestUnwrapSupportsErrorsIs(t *testing.T) {
	cause := stdErrors.New("database offline")
	err := ErrServiceUnavailable.WithInternal(cause)
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the internal cause")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("email is required")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}
