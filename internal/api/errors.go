package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/recovery"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, recovery.ErrInvalidMode):
		return http.StatusBadRequest

	case errors.Is(err, orchestrator.ErrQuotaExceeded):
		return http.StatusPaymentRequired

	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Session expired"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid session token"

	case errors.Is(err, orchestrator.ErrTaskNotFound):
		return "Generation not found"

	case errors.Is(err, domain.ErrInvalidTaskType):
		return "Unsupported task type"

	case errors.Is(err, domain.ErrInvalidSlotCount):
		return "Too many images requested"

	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return SanitizeValidationError(err)

	case errors.Is(err, recovery.ErrInvalidMode):
		return "Invalid recovery mode"

	case errors.Is(err, orchestrator.ErrQuotaExceeded):
		return "Image quota exhausted"

	case errors.Is(err, orchestrator.ErrBusy):
		return "Generation queue is full, try again shortly"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err. Server
// errors use fallbackMsg so internal wording never reaches the client.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// jsonFieldNames maps validated struct fields to their wire names.
var jsonFieldNames = map[string]string{
	"TaskType":      "task_type",
	"InputImageURL": "input_image_url",
	"SlotCount":     "image_count",
	"ImageCount":    "image_count",
	"Params":        "params",
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'Request.SlotCount' Error:Field validation for 'SlotCount' failed on the 'required' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				if name, ok := jsonFieldNames[field]; ok {
					field = name
				}
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "must be a URL"
	case "gte", "min":
		return "too small"
	case "lte", "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
