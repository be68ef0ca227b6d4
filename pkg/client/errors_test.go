package client

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := shouldRetry(tt.errorClass); result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestStatusError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *StatusError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &StatusError{
				ErrorClass: ErrorClassNetwork,
				Message:    "page request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "network error (status 0): page request failed: connection refused",
		},
		{
			name:     "error without wrapped error",
			err:      NewStatusError(500, "boom"),
			expected: "server error (status 500): boom",
		},
		{
			name:     "rate limit error",
			err:      NewStatusError(429, "Not enough capacity"),
			expected: "rate_limit error (status 429): Not enough capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.err.Error(); result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestStatusError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	err := &StatusError{ErrorClass: ErrorClassNetwork, Err: wrappedErr}

	if !errors.Is(err, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
	if NewStatusError(404, "not found").Unwrap() != nil {
		t.Error("Unwrap() of a status-only error should be nil")
	}
}
