package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{400, Irrecoverable},
		{401, Irrecoverable},
		{404, Irrecoverable},
		{408, Recoverable},
		{422, Irrecoverable},
		{429, Recoverable},
		{500, Recoverable},
		{503, Recoverable},
	}
	for _, tt := range tests {
		got := Classify(tt.status, nil, "list events")
		if got.Category != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.status, got.Category, tt.want)
		}
	}
}

func TestClassifyReadsEnvelope(t *testing.T) {
	ce := Classify(400, []byte(`{"status":400,"message":"endDate must be after startDate"}`), "list events")
	if ce.Message != "endDate must be after startDate" {
		t.Fatalf("message = %q", ce.Message)
	}
	if !IsIrrecoverable(fmt.Errorf("wrapped: %w", ce)) {
		t.Fatal("expected wrapped 400 to stay irrecoverable")
	}
	if StatusCode(ce) != http.StatusBadRequest {
		t.Fatalf("status = %d", StatusCode(ce))
	}

	plain := Classify(502, []byte("bad gateway"), "list events")
	if plain.Message != "bad gateway" {
		t.Fatalf("message = %q", plain.Message)
	}
}

func TestNetworkIsRecoverable(t *testing.T) {
	err := Network("list tasks", context.DeadlineExceeded)
	if IsIrrecoverable(err) {
		t.Fatal("network errors must be retried")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("underlying error lost")
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("status = %d", StatusCode(err))
	}
}

func TestValidation(t *testing.T) {
	err := Validation("end %s before start", "09:00")
	if !IsValidation(err) || !IsIrrecoverable(err) {
		t.Fatalf("validation error misclassified: %v", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("status = %d", StatusCode(err))
	}
	if IsValidation(errors.New("other")) {
		t.Fatal("plain error reported as validation")
	}
}
