package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Ledger errors
	ErrAttemptNotFound      = errors.New("payment attempt not found")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidInvoice       = errors.New("invalid invoice number")
	ErrInvalidStatus        = errors.New("invalid attempt status")
	ErrSignInvariant        = errors.New("amount sign does not match attempt")
	ErrUnsupportedGateway   = errors.New("unsupported payment gateway")
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")

	// Webhook errors
	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
	ErrWebhookNotFound       = errors.New("webhook registration not found")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Kind classifies a PaymentError for the HTTP boundary.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindBusinessRule       Kind = "business_rule"
	KindNotFound           Kind = "not_found"
	KindGatewayTransport   Kind = "gateway_transport"
	KindGatewayBusiness    Kind = "gateway_business"
	KindSignature          Kind = "signature"
	KindReconciliationMiss Kind = "reconciliation_miss"
	KindConfiguration      Kind = "configuration"
)

// PaymentError is the typed outcome of a rejected payment, refund, void or
// webhook delivery. Status, when non-zero, overrides the kind's default HTTP
// status (a card decline is 402, a void on a captured charge is 409).
type PaymentError struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithStatus returns a copy of e carrying an explicit HTTP status.
func (e *PaymentError) WithStatus(status int) *PaymentError {
	cp := *e
	cp.Status = status
	return &cp
}

var defaultStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindBusinessRule:       http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindGatewayTransport:   http.StatusInternalServerError,
	KindGatewayBusiness:    http.StatusUnprocessableEntity,
	KindSignature:          http.StatusUnauthorized,
	KindReconciliationMiss: http.StatusOK,
	KindConfiguration:      http.StatusInternalServerError,
}

// HTTPStatus is the explicit Status, or the kind's default.
func (e *PaymentError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := defaultStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Transient reports whether the caller may retry after re-checking ledger state.
func (e *PaymentError) Transient() bool {
	return e.Kind == KindGatewayTransport
}

func newPaymentError(kind Kind, code, message string, err error) *PaymentError {
	return &PaymentError{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *PaymentError {
	return newPaymentError(KindValidation, code, message, nil)
}

func BusinessRule(code, message string) *PaymentError {
	return newPaymentError(KindBusinessRule, code, message, nil)
}

func NotFound(code, message string) *PaymentError {
	return newPaymentError(KindNotFound, code, message, nil)
}

func GatewayTransport(code, message string, err error) *PaymentError {
	return newPaymentError(KindGatewayTransport, code, message, err)
}

func GatewayBusiness(code, message string, err error) *PaymentError {
	return newPaymentError(KindGatewayBusiness, code, message, err)
}

func Signature(code, message string, err error) *PaymentError {
	return newPaymentError(KindSignature, code, message, err)
}

func ReconciliationMiss(code, message string) *PaymentError {
	return newPaymentError(KindReconciliationMiss, code, message, nil)
}

func Configuration(code, message string) *PaymentError {
	return newPaymentError(KindConfiguration, code, message, nil)
}

// AsPaymentError extracts a *PaymentError from err's chain.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of the first PaymentError in err's chain, or "".
func KindOf(err error) Kind {
	if pe, ok := AsPaymentError(err); ok {
		return pe.Kind
	}
	return ""
}
