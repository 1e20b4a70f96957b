// Package apperr holds the error taxonomy shared by services and the
// helpers that turn it into HTTP responses.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnauthenticated     = errors.New("must be authenticated")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Upstream marks err as a collaborator failure. It is not retried.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// Invalid wraps a user-facing validation message.
func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// Status maps err onto an HTTP status code.
func Status(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// HTTP converts a service error into a *fiber.Error. Server-side failures
// are logged and answered with the category text only.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	status := Status(err)
	if status < fiber.StatusInternalServerError {
		return fiber.NewError(status, err.Error())
	}
	log.Error().Err(err).Int("status", status).Msg("request failed")
	if status == fiber.StatusServiceUnavailable {
		return fiber.NewError(status, ErrUpstreamUnavailable.Error())
	}
	return fiber.NewError(status, "internal error")
}
