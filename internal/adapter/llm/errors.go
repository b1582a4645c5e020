package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth            Kind = "auth"
	KindBilling         Kind = "billing"
	KindQuota           Kind = "quota"
	KindRateLimit       Kind = "rate_limit"
	KindTimeout         Kind = "timeout"
	KindTransient       Kind = "transient"
	KindInvalidResponse Kind = "invalid_response"
)

// Fatal reports whether every later call would fail the same way.
func (k Kind) Fatal() bool {
	switch k {
	case KindAuth, KindBilling, KindQuota:
		return true
	}
	return false
}

// Error is a classified provider error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

var fatalPhrases = []string{
	"api key",
	"authentication",
	"unauthorized",
	"permission denied",
	"billing",
	"quota exceeded",
}

// IsFatal reports whether err should abort a whole run. Typed errors are
// classified by Kind; anything else is matched against known credential and
// billing phrases, with '_' and '-' read as spaces so "invalid_api_key"
// matches. Errors about the content of a reply are never fatal, whatever
// words the reply happens to contain.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		if le.Kind.Fatal() {
			return true
		}
		if le.Kind == KindInvalidResponse {
			return false
		}
	}
	msg := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(err.Error()))
	for _, phrase := range fatalPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether another attempt at the same chunk may succeed.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
