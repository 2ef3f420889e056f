package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	assignmentdomain "github.com/smallbiznis/medaudit/internal/assignment/domain"
	"github.com/smallbiznis/medaudit/internal/authorization"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	glosadomain "github.com/smallbiznis/medaudit/internal/glosa/domain"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type           string            `json:"type"`
	Message        string            `json:"message"`
	CurrentState   string            `json:"current_state,omitempty"`
	RequestedState string            `json:"requested_state,omitempty"`
	Errors         []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// errorKind maps a sentinel to its status and public type. Messages are
// fixed per kind so payload values never reach the response.
type errorKind struct {
	match   func(error) bool
	status  int
	kind    string
	message string
}

func is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

var errorKinds = []errorKind{
	{is(ErrRateLimited), http.StatusTooManyRequests, "rate_limited", "too many requests"},
	{is(ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
	{is(ErrForbidden, authorization.ErrForbidden, authorization.ErrInvalidActor), http.StatusForbidden, "forbidden", "forbidden"},
	{is(assignmentdomain.ErrConsistencyViolation), http.StatusInternalServerError, "consistency_violation", "assignment consistency violation"},
	{is(glosadomain.ErrAlreadyGlosed), http.StatusConflict, "already_glosed", "service line already has a glosa"},
	{is(glosadomain.ErrInvalidTransition), http.StatusConflict, "invalid_transition", "operation not allowed in the current glosa state"},
	{is(claimdomain.ErrInvalidState), http.StatusConflict, "invalid_state", "operation not allowed in the current claim state"},
	{is(assignmentdomain.ErrAlreadyAssigned), http.StatusConflict, "already_assigned", "pre-glosa already assigned"},
	{is(rosterdomain.ErrCapacityExceeded), http.StatusConflict, "capacity_exceeded", "auditor capacity exceeded"},
	{is(claimdomain.ErrDuplicateInvoice), http.StatusConflict, "duplicate_invoice", "invoice already received for this provider"},
	{is(preauditdomain.ErrClassificationInProgress), http.StatusConflict, "classification_in_progress", "classification already running"},
	{is(
		glosadomain.ErrValueExceedsService,
		glosadomain.ErrInvalidAcceptedValue,
		glosadomain.ErrInvalidValue,
		claimdomain.ErrNegativeBilledValue,
	), http.StatusUnprocessableEntity, "value_exceeds_service", "monetary value out of range"},
	{is(
		ErrNotFound,
		claimdomain.ErrNotFound,
		claimdomain.ErrServiceNotFound,
		rosterdomain.ErrNotFound,
		assignmentdomain.ErrNotFound,
		gorm.ErrRecordNotFound,
	), http.StatusNotFound, "not_found", "not found"},
}

var validationSentinels = []error{
	ErrInvalidRequest,
	claimdomain.ErrInvalidRequest,
	claimdomain.ErrInvalidServiceRef,
	claimdomain.ErrUnknownServiceType,
	glosadomain.ErrInvalidRequest,
	glosadomain.ErrInvalidResponseType,
	glosadomain.ErrInvalidDecision,
	rosterdomain.ErrInvalidAuditor,
	rosterdomain.ErrInvalidRole,
	rosterdomain.ErrInvalidCapacity,
	assignmentdomain.ErrEmptyBatch,
	assignmentdomain.ErrNotAssigned,
	tracedomain.ErrInvalidPageToken,
	tracedomain.ErrInvalidTransaction,
	tracedomain.ErrInvalidAction,
	authorization.ErrInvalidObject,
	authorization.ErrInvalidAction,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	for _, kind := range errorKinds {
		if kind.match(err) {
			payload := errorPayload{Type: kind.kind, Message: kind.message}
			var te *glosadomain.TransitionError
			if errors.As(err, &te) {
				payload.CurrentState = string(te.Current)
				payload.RequestedState = string(te.Requested)
			}
			return kind.status, payload
		}
	}

	if code, ok := validationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  validationDetails(err, code),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return "invalid_request", true
	}
	return "", false
}

// validationDetails lists the failing fields reported by the validator, or a
// single entry for the sentinel code.
func validationDetails(err error, code string) []ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, ValidationError{
				Field:   fe.Namespace(),
				Code:    fe.Tag(),
				Message: "invalid value",
			})
		}
		return details
	}
	return []ValidationError{{
		Field:   validationField(code),
		Code:    code,
		Message: "invalid value",
	}}
}

func validationField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_service_ref":
		return "service_ref"
	case "invalid_response_type":
		return "response_type"
	case "invalid_decision":
		return "decision"
	case "invalid_page_token":
		return "page_token"
	case "empty_batch":
		return "pre_glosa_ids"
	case "invalid_daily_capacity":
		return "daily_capacity"
	case "invalid_role":
		return "roles"
	default:
		return ""
	}
}

func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}
