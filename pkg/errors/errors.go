package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

// Generic transport-level codes.
const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"
)

// Billing validation codes: malformed parameters, always caller-correctable.
const (
	CodeInvalidPrice          Code = "INVALID_PRICE"
	CodeIntervalTooShort      Code = "INTERVAL_TOO_SHORT"
	CodeInvalidMaxSubscribers Code = "INVALID_MAX_SUBSCRIBERS"
	CodeMetadataTooLong       Code = "METADATA_TOO_LONG"
	CodeMaxSubscribersTooLow  Code = "MAX_SUBSCRIBERS_TOO_LOW"
)

// State-conflict codes: the record exists but is in the wrong lifecycle state.
const (
	CodePlanInactive         Code = "PLAN_INACTIVE"
	CodePlanPaused           Code = "PLAN_PAUSED"
	CodePlanFull             Code = "PLAN_FULL"
	CodePlanAlreadyPaused    Code = "PLAN_ALREADY_PAUSED"
	CodePlanNotPaused        Code = "PLAN_NOT_PAUSED"
	CodePlanAlreadyInactive  Code = "PLAN_ALREADY_INACTIVE"
	CodeSubscriptionInactive Code = "SUBSCRIPTION_INACTIVE"
	CodeSubscriptionActive   Code = "SUBSCRIPTION_STILL_ACTIVE"
)

// Authorization codes: caller/record relationship mismatches.
const (
	CodeInvalidAuthority    Code = "INVALID_AUTHORITY"
	CodeInvalidSubscriber   Code = "INVALID_SUBSCRIBER"
	CodeInvalidPlanID       Code = "INVALID_PLAN_ID"
	CodeInvalidAccountOwner Code = "INVALID_ACCOUNT_OWNER"
	CodeAddressMismatch     Code = "ADDRESS_MISMATCH"
)

// Transfer-rail codes.
const (
	CodeCurrencyMismatch  Code = "CURRENCY_MISMATCH"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
)

// Arithmetic codes: checked overflow/underflow, fatal to the operation.
const (
	CodeOverflow  Code = "OVERFLOW"
	CodeUnderflow Code = "UNDERFLOW"
)

// Timing codes from the payment scheduler.
const (
	CodePaymentNotDue  Code = "PAYMENT_NOT_DUE"
	CodePaymentTooLate Code = "PAYMENT_TOO_LATE"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		Retryable:     true,
		PublicMessage: "rate limit exceeded",
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},

	CodeInvalidPrice: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "price must be greater than zero",
		DetailsAllowed: true,
	},
	CodeIntervalTooShort: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "interval must be at least 60 seconds",
		DetailsAllowed: true,
	},
	CodeInvalidMaxSubscribers: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "max subscribers must be greater than zero",
		DetailsAllowed: true,
	},
	CodeMetadataTooLong: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "metadata exceeds the 200 character limit",
		DetailsAllowed: true,
	},
	CodeMaxSubscribersTooLow: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "max subscribers cannot drop below the current subscriber count",
		DetailsAllowed: true,
	},

	CodePlanInactive: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan is inactive",
	},
	CodePlanPaused: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan is paused",
	},
	CodePlanFull: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan has reached its subscriber limit",
	},
	CodePlanAlreadyPaused: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan is already paused",
	},
	CodePlanNotPaused: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan is not paused",
	},
	CodePlanAlreadyInactive: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "plan is already inactive",
	},
	CodeSubscriptionInactive: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "subscription is inactive",
	},
	CodeSubscriptionActive: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "subscription is still active",
	},

	CodeInvalidAuthority: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "caller is not the plan authority",
	},
	CodeInvalidSubscriber: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "caller is not the subscription owner",
	},
	CodeInvalidPlanID: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "subscription does not reference the named plan",
	},
	CodeInvalidAccountOwner: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "token account is not controlled by the caller",
	},
	CodeAddressMismatch: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "presented address does not match the derived record address",
	},

	CodeCurrencyMismatch: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "token accounts reference different mints",
	},
	CodeInsufficientFunds: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "insufficient funds for transfer",
	},

	CodeOverflow: {
		HTTPStatus:    http.StatusInternalServerError,
		PublicMessage: "arithmetic overflow",
	},
	CodeUnderflow: {
		HTTPStatus:    http.StatusInternalServerError,
		PublicMessage: "arithmetic underflow",
	},

	CodePaymentNotDue: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "payment is not due yet",
	},
	CodePaymentTooLate: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "payment window has lapsed",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
