package protocol

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zot/qrcanvas/internal/persist"
	"github.com/zot/qrcanvas/internal/qr"
	"github.com/zot/qrcanvas/internal/scene"
	"github.com/zot/qrcanvas/internal/session"
	"github.com/zot/qrcanvas/internal/storage"
	"github.com/zot/qrcanvas/internal/studio"
)

// Error codes.
const (
	CodeInvalid       = "invalid"
	CodeNotFound      = "not-found"
	CodeInvariant     = "invariant"
	CodeQuotaExceeded = "quota-exceeded"
	CodeClosed        = "closed"
	CodeInternal      = "internal"
)

// ErrUnknownMessage is returned for an unrecognized message type.
var ErrUnknownMessage = errors.New("unknown message type")

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, persist.ErrStorageExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, scene.ErrInvariantViolation):
		return CodeInvariant
	case errors.Is(err, scene.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, scene.ErrInvalidElement), errors.Is(err, qr.ErrInvalidContent),
		errors.Is(err, studio.ErrInvalidRequest), errors.Is(err, ErrUnknownMessage),
		errors.As(err, &syntax), errors.As(err, &typeErr):
		return CodeInvalid
	case errors.Is(err, session.ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvariant:
		return http.StatusConflict
	case CodeQuotaExceeded:
		return http.StatusInsufficientStorage
	case CodeClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
