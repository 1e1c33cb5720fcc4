package handlers

import (
	"errors"
	"net/http"

	"iptv-gate/work/accesscode"
	"iptv-gate/work/auth"
	"iptv-gate/work/catalog"
	"iptv-gate/work/logger"
)

// playerStatus maps redemption failures to the statuses players see.
func playerStatus(err error) (int, string) {
	switch {
	case errors.Is(err, accesscode.ErrCodeNotFound):
		return http.StatusNotFound, "Access code not found"
	case errors.Is(err, accesscode.ErrPlaylistNotFound):
		return http.StatusNotFound, "Playlist not found"
	case errors.Is(err, accesscode.ErrCodeExpired):
		return http.StatusGone, "Access code expired"
	case errors.Is(err, accesscode.ErrUsageLimitExceeded):
		return http.StatusTooManyRequests, "Access code usage limit exceeded"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writePlayerError(w http.ResponseWriter, err error) {
	status, msg := playerStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("{handlers/errors - writePlayerError} %v", err)
	}
	http.Error(w, msg, status)
}

// apiStatus maps service errors to API statuses. Unknown errors are storage failures and
// never reach the client verbatim.
func apiStatus(err error) (int, string) {
	switch {
	case errors.Is(err, accesscode.ErrCodeNotFound),
		errors.Is(err, accesscode.ErrPlaylistNotFound),
		errors.Is(err, catalog.ErrChannelNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, accesscode.ErrCodeExpired),
		errors.Is(err, accesscode.ErrPlaylistExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, accesscode.ErrUsageLimitExceeded):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, accesscode.ErrNotAuthorized),
		errors.Is(err, catalog.ErrForbidden),
		errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, accesscode.ErrInvalidRequest),
		errors.Is(err, catalog.ErrInvalidChannel),
		errors.Is(err, catalog.ErrInvalidPlaylist),
		errors.Is(err, auth.ErrInvalidUser):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountDisabled),
		errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// WriteAPIError writes err as {"error": "..."} with the mapped status.
func WriteAPIError(w http.ResponseWriter, err error) {
	status, msg := apiStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("{handlers/errors - WriteAPIError} %v", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
