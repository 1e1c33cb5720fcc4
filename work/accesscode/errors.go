package accesscode

import "errors"

var (
	ErrCodeNotFound       = errors.New("access code not found")
	ErrCodeExpired        = errors.New("access code expired")
	ErrUsageLimitExceeded = errors.New("access code usage limit exceeded")
	ErrPlaylistNotFound   = errors.New("playlist not found")
	ErrPlaylistExpired    = errors.New("playlist expired")
	ErrNotAuthorized      = errors.New("not authorized for this playlist")
	ErrInvalidRequest     = errors.New("invalid access code request")
)

// Outcome returns the metric label for a redemption result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrUsageLimitExceeded):
		return "limit_reached"
	default:
		return "error"
	}
}
