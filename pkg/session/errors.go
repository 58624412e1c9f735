package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed backend call.
type Kind int

const (
	// KindAuth means token issuance failed. Fatal to startup.
	KindAuth Kind = iota + 1

	// KindAuthExpired means the backend rejected the session token
	// mid-session.
	KindAuthExpired

	// KindNotAuthenticated means a call needing a session ran without one.
	KindNotAuthenticated

	// KindNetwork is any other transport or status failure. Retryable.
	KindNetwork

	// KindTimeout means the client gave up waiting. Retryable.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindAuthExpired:
		return "auth_expired"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is matching against an *Error.
var (
	ErrAuth             = errors.New("token issuance failed")
	ErrAuthExpired      = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("request timed out")
)

// Error is returned by every Client call that fails.
type Error struct {
	Kind   Kind
	Op     string
	Status int

	// Body is the raw response body, kept as diagnostic context.
	Body string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.sentinel().Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Body != "" {
		body := e.Body
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		fmt.Fprintf(&b, ": %s", body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindAuth:
		return ErrAuth
	case KindAuthExpired:
		return ErrAuthExpired
	case KindNotAuthenticated:
		return ErrNotAuthenticated
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrNetwork
	}
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the user may simply try again.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// statusError maps a non-2xx status of an authenticated call: 400 and 401
// mean the token is no longer accepted, everything else is a network
// failure.
func statusError(op string, status int, body []byte) *Error {
	kind := KindNetwork
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		kind = KindAuthExpired
	}
	return &Error{Kind: kind, Op: op, Status: status, Body: string(body)}
}

// exhaustedMessage is the 422 body fragment that ends init free rounds.
const exhaustedMessage = "no valid freespins available"

func isExhaustion(status int, body []byte) bool {
	return status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(string(body)), exhaustedMessage)
}
