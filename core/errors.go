package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	FulfillmentErrorBadInput           = "FULFILLMENT_BAD_INPUT"
	FulfillmentErrorInvalidSignature   = "FULFILLMENT_INVALID_SIGNATURE"
	FulfillmentErrorNotFound           = "FULFILLMENT_NOT_FOUND"
	FulfillmentErrorInvalidTransition  = "FULFILLMENT_INVALID_TRANSITION"
	FulfillmentErrorInsufficientStock  = "FULFILLMENT_INSUFFICIENT_STOCK"
	FulfillmentErrorAccessDenied       = "FULFILLMENT_ACCESS_DENIED"
	FulfillmentErrorProviderFailed     = "FULFILLMENT_PROVIDER_FAILED"
	FulfillmentErrorTransient          = "FULFILLMENT_TRANSIENT"
	FulfillmentErrorInvariantViolation = "FULFILLMENT_INVARIANT_VIOLATION"
	FulfillmentErrorInternal           = "FULFILLMENT_INTERNAL_ERROR"
)

// MapError converts any error produced by the fulfillment core into the
// go-errors envelope used by transports.
func MapError(err error) *goerrors.Error {
	return fulfillmentErrorMapper(err)
}

func fulfillmentErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureFulfillmentErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrInvariantViolation):
		return newFulfillmentError(err.Error(), goerrors.CategoryInternal, FulfillmentErrorInvariantViolation)
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, ErrDeliverableNotFound),
		errors.Is(err, ErrProductNotFound):
		return newFulfillmentError(err.Error(), goerrors.CategoryNotFound, FulfillmentErrorNotFound)
	case errors.Is(err, ErrInvalidOrderStatusTransition),
		errors.Is(err, ErrInvalidServiceStatusTransition),
		errors.Is(err, ErrServiceWorkflowNotStarted):
		return newFulfillmentError(err.Error(), goerrors.CategoryConflict, FulfillmentErrorInvalidTransition)
	case errors.Is(err, ErrInsufficientStock):
		return newFulfillmentError(err.Error(), goerrors.CategoryConflict, FulfillmentErrorInsufficientStock)
	case errors.Is(err, ErrDeliverableExpired), errors.Is(err, ErrDeliverableRevoked):
		return newFulfillmentError(err.Error(), goerrors.CategoryAuthz, FulfillmentErrorAccessDenied)
	case errors.Is(err, ErrEmptyCheckout),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrAmountOverflow),
		errors.Is(err, ErrProductUnavailable):
		return newFulfillmentError(err.Error(), goerrors.CategoryBadInput, FulfillmentErrorBadInput)
	case errors.Is(err, ErrCheckoutProviderUnavailable):
		return newFulfillmentError(err.Error(), goerrors.CategoryExternal, FulfillmentErrorProviderFailed)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newFulfillmentError(err.Error(), goerrors.CategoryOperation, FulfillmentErrorTransient)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must"):
		return newFulfillmentError(err.Error(), goerrors.CategoryBadInput, FulfillmentErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureFulfillmentErrorEnvelope(mapped)
}

// transientError wraps infrastructure failures raised inside a unit of work so
// the caller answers with a retryable status.
func transientError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	if errors.Is(err, ErrInvariantViolation) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, message).
			WithCode(http.StatusInternalServerError).
			WithTextCode(FulfillmentErrorInvariantViolation).
			WithSeverity(goerrors.SeverityError)
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(FulfillmentErrorTransient)
}

func newFulfillmentError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureFulfillmentErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureFulfillmentErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = FulfillmentHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultFulfillmentTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultFulfillmentTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return FulfillmentErrorBadInput
	case goerrors.CategoryNotFound:
		return FulfillmentErrorNotFound
	case goerrors.CategoryAuth:
		return FulfillmentErrorInvalidSignature
	case goerrors.CategoryAuthz:
		return FulfillmentErrorAccessDenied
	case goerrors.CategoryConflict:
		return FulfillmentErrorInvalidTransition
	case goerrors.CategoryExternal:
		return FulfillmentErrorProviderFailed
	case goerrors.CategoryOperation:
		return FulfillmentErrorTransient
	default:
		return FulfillmentErrorInternal
	}
}

// FulfillmentHTTPStatus maps an error category to a response status. An
// authentication failure answers 400 so providers stop redelivering.
func FulfillmentHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuth:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error, sentinel error) bool {
	return err != nil && errors.Is(err, sentinel)
}
