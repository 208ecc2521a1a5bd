package domain

import "errors"

var (
	// ErrUnauthenticated: missing or malformed credential at handshake.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden: banned user, or a room the user is not entitled to.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	// ErrTargetGone: the explicit signaling target no longer exists.
	ErrTargetGone = errors.New("target gone")
	// ErrTransient: a collaborator call failed or timed out.
	ErrTransient   = errors.New("collaborator unavailable")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
)

// Code maps an error to the code carried by error events.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTargetGone):
		return "target_gone"
	case errors.Is(err, ErrTransient):
		return "unavailable"
	}
	return "internal"
}
