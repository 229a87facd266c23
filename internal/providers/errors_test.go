package providers

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":           ErrorQuota,
		"429 rate":                     ErrorRate,
		"context length exceeded":      ErrorContext,
		"timeout":                      ErrorTransient,
		"context deadline exceeded":    ErrorTransient,
		"bad request":                  ErrorPermanent,
		"status 401: invalid api key":  ErrorCredential,
		"no active API key configured": ErrorCredential,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}
