package api

import (
	"errors"
	"net/http"

	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

// Public messages for failures that carry no user-facing text of their own.
// Internal detail is only ever logged.
const (
	msgGeneric         = "Something went wrong. Please try again later."
	msgRateLimited     = "Too many requests. Please try again later."
	msgBadRequest      = "Invalid request body."
	msgUnauthorized    = "Unauthorized."
	msgLaunchInProcess = "A launch broadcast is already running."
)

// classify maps a service error to an HTTP status and a safe message.
// 5xx responses always carry msgGeneric.
func classify(err error) (int, string) {
	var (
		validation *waitlist.ValidationError
		notFound   *waitlist.NotFoundError
		limited    *waitlist.RateLimitedError
		transport  *waitlist.TransportError
		decryption *waitlist.DecryptionError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Message
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, waitlist.ErrLaunchInProgress):
		return http.StatusConflict, msgLaunchInProcess
	case errors.As(err, &transport):
		logger.Error("api: transport failure", "provider", transport.Provider, "error", transport.Error())
	case errors.As(err, &decryption):
		logger.Error("api: decryption failure", "error", decryption.Error())
	default:
		logger.Error("api: unexpected error", "error", err.Error())
	}
	return http.StatusInternalServerError, msgGeneric
}
