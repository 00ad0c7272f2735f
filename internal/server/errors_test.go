package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/siteloom/growth/internal/authorization"
	enginedomain "github.com/siteloom/growth/internal/engine/domain"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"gorm.io/gorm"
)

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"invalid actor", authorization.ErrInvalidActor, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"invalid event kind", enginedomain.ErrInvalidEventKind, http.StatusBadRequest, "validation_error"},
		{"invalid platform", enginedomain.ErrInvalidPlatform, http.StatusBadRequest, "validation_error"},
		{"invalid site name", sitedomain.ErrInvalidName, http.StatusBadRequest, "validation_error"},
		{"site not found", sitedomain.ErrSiteNotFound, http.StatusNotFound, "not_found"},
		{"user not found", userdomain.ErrUserNotFound, http.StatusNotFound, "not_found"},
		{"referral not found", referraldomain.ErrReferralNotFound, http.StatusNotFound, "not_found"},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"email taken", userdomain.ErrEmailTaken, http.StatusConflict, "conflict"},
		{"site suspended", sitedomain.ErrSiteSuspended, http.StatusConflict, "conflict"},
		{"status not allowed", sitedomain.ErrStatusNotAllowed, http.StatusConflict, "conflict"},
		{"referral not pending", referraldomain.ErrReferralNotPending, http.StatusConflict, "conflict"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"service unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			if status != tc.wantStatus {
				t.Fatalf("status: want %d, got %d", tc.wantStatus, status)
			}
			if payload.Type != tc.wantType {
				t.Fatalf("type: want %q, got %q", tc.wantType, payload.Type)
			}
		})
	}
}

func TestMapErrorSeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("append event: %w", sitedomain.ErrSiteNotFound)
	status, payload := mapError(wrapped)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for wrapped not-found, got %d", status)
	}
	if payload.Type != "not_found" {
		t.Fatalf("expected not_found, got %q", payload.Type)
	}
}

func TestClassifyErrorForLogAgreesWithResponse(t *testing.T) {
	errorType, errorCode := classifyErrorForLog(enginedomain.ErrInvalidSiteRef)
	if errorType != "validation_error" {
		t.Fatalf("expected validation_error, got %q", errorType)
	}
	if errorCode != "invalid_site_ref" {
		t.Fatalf("expected invalid_site_ref, got %q", errorCode)
	}

	errorType, errorCode = classifyErrorForLog(ErrRateLimited)
	if errorType != "rate_limited" || errorCode != "rate_limited" {
		t.Fatalf("unexpected classification: %q %q", errorType, errorCode)
	}
}

func TestValidationPayloadCarriesFieldAndCode(t *testing.T) {
	status, payload := mapError(newValidationError("site_id", "invalid_site_id", "invalid site_id"))
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if len(payload.Errors) != 1 {
		t.Fatalf("expected one validation error, got %d", len(payload.Errors))
	}
	if payload.Errors[0].Field != "site_id" || payload.Errors[0].Code != "invalid_site_id" {
		t.Fatalf("unexpected validation error: %+v", payload.Errors[0])
	}
}
