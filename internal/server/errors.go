package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/authorization"
	enginedomain "github.com/siteloom/growth/internal/engine/domain"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	scoredomain "github.com/siteloom/growth/internal/score/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	tierdomain "github.com/siteloom/growth/internal/tier/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
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
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isEventValidationError(err),
		isSiteValidationError(err),
		isUserValidationError(err),
		isReferralValidationError(err):
		return true
	case errors.Is(err, scoredomain.ErrNegativeCounters):
		return true
	default:
		return false
	}
}

// isConflictError covers writes that lost to existing state: duplicate
// emails, referrals past the expected status, suspended sites.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, userdomain.ErrEmailTaken),
		errors.Is(err, sitedomain.ErrStatusNotAllowed),
		errors.Is(err, sitedomain.ErrSiteSuspended),
		errors.Is(err, referraldomain.ErrReferralNotPending),
		errors.Is(err, referraldomain.ErrReferralNotActivated):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sitedomain.ErrSiteNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, referraldomain.ErrReferralNotFound),
		errors.Is(err, featuringdomain.ErrSiteNotFound),
		errors.Is(err, featuringdomain.ErrOwnerNotFound),
		errors.Is(err, milestonedomain.ErrUserNotFound),
		errors.Is(err, tierdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isEventValidationError(err error) bool {
	switch {
	case errors.Is(err, enginedomain.ErrInvalidEventKind),
		errors.Is(err, enginedomain.ErrInvalidSiteRef),
		errors.Is(err, enginedomain.ErrInvalidUserRef),
		errors.Is(err, enginedomain.ErrInvalidReferralRef),
		errors.Is(err, enginedomain.ErrInvalidPlatform),
		errors.Is(err, enginedomain.ErrInvalidAnalyticsType):
		return true
	default:
		return false
	}
}

func isSiteValidationError(err error) bool {
	switch {
	case errors.Is(err, sitedomain.ErrInvalidUser),
		errors.Is(err, sitedomain.ErrInvalidName),
		errors.Is(err, sitedomain.ErrInvalidSite),
		errors.Is(err, sitedomain.ErrInvalidStatus),
		errors.Is(err, sitedomain.ErrNegativeCounter):
		return true
	default:
		return false
	}
}

func isUserValidationError(err error) bool {
	switch {
	case errors.Is(err, userdomain.ErrInvalidUser),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrInvalidTier):
		return true
	default:
		return false
	}
}

func isReferralValidationError(err error) bool {
	switch {
	case errors.Is(err, referraldomain.ErrInvalidReferrer),
		errors.Is(err, referraldomain.ErrInvalidReferral),
		errors.Is(err, referraldomain.ErrInvalidEmail):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == "invalid_request" {
		return "request"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger. It reuses the response
// mapping so log error types always agree with what the client saw.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	if payload.Type == "validation_error" && len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
