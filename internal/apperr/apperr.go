// Package apperr classifies checkout errors into stable kinds and HTTP statuses.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

func Kind(err error) string {
	var ve *validation.ValidationError
	var be *checkout.BackendError
	var ge *checkout.GatewayInitError
	switch {
	case err == nil:
		return ""

	case errors.As(err, &ve):
		return "validation_failed"

	case errors.Is(err, checkout.ErrEmptyCart):
		return "empty_cart"

	case errors.Is(err, checkout.ErrIllegalState):
		return "illegal_state"

	case errors.Is(err, checkout.ErrAmountMismatch):
		return "amount_mismatch"

	case errors.Is(err, payment.ErrBadSignature):
		return "bad_signature"

	case errors.Is(err, payment.ErrUnknownSession):
		return "unknown_payment_session"

	case errors.As(err, &ge):
		return "gateway_unavailable"

	case errors.Is(err, orders.ErrNotFound):
		return "not_found"

	case errors.As(err, &be):
		return "backend_error"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"":                        http.StatusOK,
	"validation_failed":       http.StatusBadRequest,
	"empty_cart":              http.StatusBadRequest,
	"amount_mismatch":         http.StatusBadRequest,
	"bad_signature":           http.StatusUnauthorized,
	"illegal_state":           http.StatusConflict,
	"unknown_payment_session": http.StatusNotFound,
	"not_found":               http.StatusNotFound,
	"gateway_unavailable":     http.StatusServiceUnavailable,
	"backend_error":           http.StatusBadGateway,
	"timeout":                 http.StatusGatewayTimeout,
	"canceled":                http.StatusRequestTimeout,
}

func HTTPStatus(err error) int {
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
