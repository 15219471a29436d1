package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/infra/logging"
)

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes an optional JSON body into dst and validates it.
func decodeBody(r *http.Request, dst any) error {
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return &bodyError{cause: err}
		}
	}
	return validate.Struct(dst)
}

type bodyError struct{ cause error }

func (e *bodyError) Error() string { return "invalid request body: " + e.cause.Error() }

// fieldErrors turns validator errors into json field -> failed rule.
func fieldErrors(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			out[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

// writeError maps domain errors onto HTTP statuses. Gateway internals never
// reach the response body.
func writeError(w http.ResponseWriter, r *http.Request, log *zerolog.Logger, err error) {
	var (
		ve    validator.ValidationErrors
		dve   *domain.ValidationError
		gwErr *domain.GatewayError
		bErr  *bodyError
	)
	switch {
	case errors.As(err, &bErr):
		writeJSON(w, http.StatusBadRequest, Error{Code: "bad_request", Message: "request body is not valid JSON"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, Error{Code: "validation_failed", Message: "request validation failed", Fields: fieldErrors(ve)})
	case errors.As(err, &dve):
		e := Error{Code: "validation_failed", Message: dve.Reason}
		if dve.Field != "" {
			e.Fields = map[string]string{dve.Field: dve.Reason}
		}
		writeJSON(w, http.StatusUnprocessableEntity, e)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidAmount):
		writeJSON(w, http.StatusUnprocessableEntity, Error{Code: "validation_failed", Message: err.Error()})
	case errors.As(err, &gwErr):
		status := http.StatusBadGateway
		if gwErr.Code == domain.GatewayCodeCardDeclined || gwErr.Code == domain.GatewayCodeRequiresAction {
			status = http.StatusPaymentRequired
		}
		logging.With(r.Context(), log).Warn().Err(err).Str("code", gwErr.Code).Msg("gateway call failed")
		writeJSON(w, status, Error{Code: gwErr.Code, Message: "payment gateway rejected the request"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Error{Code: "not_found", Message: "not found"})
	case errors.Is(err, domain.ErrLocked), errors.Is(err, domain.ErrConcurrentUpdate), errors.Is(err, domain.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, Error{Code: "conflict", Message: "another operation is in progress, retry later"})
	case errors.Is(err, domain.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, Error{Code: "invalid_signature", Message: "signature verification failed"})
	case errors.Is(err, domain.ErrEventNotReady):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, Error{Code: "not_ready", Message: "event cannot be applied yet"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, Error{Code: "timeout", Message: "request timed out"})
	default:
		logging.With(r.Context(), log).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, Error{Code: "internal", Message: "internal error"})
	}
}
