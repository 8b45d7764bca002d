package provider

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderError classifies a backend failure. Retryable failures are
// transport errors, HTTP 5xx, rate limits, and timeouts; every other
// 4xx is fatal.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&b, " (%s)", e.Model)
	}
	b.WriteString(": ")
	if e.Status != 0 {
		fmt.Fprintf(&b, "status %d: ", e.Status)
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// retryableStatus reports whether an HTTP status warrants another
// attempt.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return status >= 500
}

// retryableMessage matches transient transport failures that surface
// without a status code.
func retryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"no such host",
		"unexpected eof",
		"server error",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
