package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExchangeFailed matches every failure surfaced by the gateway, whatever
// its cause: transport, timeout, non-success status or malformed payload.
var ErrExchangeFailed = errors.New("exchange failed")

var errMalformed = errors.New("malformed response")

// ExchangeError is the single error type returned by Client. For sends, Text
// carries the user's original message so the caller can offer a retry.
type ExchangeError struct {
	Op     string
	Text   string
	Status int
	Err    error
}

func (e *ExchangeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func (e *ExchangeError) Is(target error) bool { return target == ErrExchangeFailed }

// Unauthorized reports a 401, which belongs to the identity layer.
func (e *ExchangeError) Unauthorized() bool { return e.Status == 401 }

// RetryText extracts the original message from a failed send.
func RetryText(err error) (string, bool) {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) || exErr.Text == "" {
		return "", false
	}
	return exErr.Text, true
}
