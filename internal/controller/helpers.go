package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/middleware"
)

var validate = newValidator()

// newValidator reports fields by their JSON names, the names clients send.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings covers sentinels that reach the boundary without a
// PaymentError around them. Order matters: the first match wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrAttemptNotFound, http.StatusNotFound, "transaction_not_found", "Transaction not found"},
	{domainErrors.ErrGatewayNotConfigured, http.StatusNotFound, "gateway_not_configured", "No active payment gateway configured"},
	{domainErrors.ErrUnsupportedGateway, http.StatusBadRequest, "unsupported_gateway", "Unsupported payment gateway"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "request_in_progress", "Another request is in progress, please retry"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request", "Duplicate request"},
	{domainErrors.ErrSignInvariant, http.StatusUnprocessableEntity, "invalid_amount", "Amount sign does not match the operation"},
	{domainErrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "Invalid amount"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "Invalid input"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		HTTPStatus:   status,
	})
}

// writeError renders err as the failure envelope. Typed payment errors carry
// their own code and status; anything unrecognised is a logged 500 with the
// detail withheld.
func writeError(w http.ResponseWriter, err error) {
	if pe, ok := domainErrors.AsPaymentError(err); ok {
		status := pe.HTTPStatus()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("error_code", pe.Code).Msg("payment request failed")
		}
		writeFailure(w, status, pe.Code, pe.Message)
		return
	}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		writeFailure(w, http.StatusBadRequest, "validation_error", validationErr.Error())
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeFailure(w, m.status, m.code, m.message)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		writeFailure(w, http.StatusUnprocessableEntity, domainErr.Code, domainErr.Message)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	writeFailure(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	err := validate.Struct(dst)
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fieldErrs) && len(fieldErrs) > 0:
		fe := fieldErrs[0]
		return domainErrors.NewValidationError(fe.Field(), describe(fe))
	default:
		return domainErrors.NewValidationError("body", err.Error())
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return fe.Tag() + " validation failed"
	}
}

// tenantFrom builds the acting tenant from the verified token.
func tenantFrom(r *http.Request) (gateway.Tenant, bool) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return gateway.Tenant{}, false
	}
	return gateway.Tenant{
		UserID:      c.UserID,
		StoreID:     c.StoreID,
		MemberEmail: c.Email,
		MemberName:  c.Name,
	}, true
}
