package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
)

func (s *Server) CreateReferral(c *gin.Context) {
	var req referraldomain.CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.referralSvc.Create(c.Request.Context(), referraldomain.CreateReferralRequest{
		ReferrerID:    strings.TrimSpace(req.ReferrerID),
		ReferredEmail: strings.TrimSpace(req.ReferredEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ActivateReferral marks the referred user as signed up. Conversion later
// flows through the event log, not through this endpoint.
func (s *Server) ActivateReferral(c *gin.Context) {
	id := strings.TrimSpace(c.Param("referral_id"))
	resp, err := s.referralSvc.Activate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListReferrals(c *gin.Context) {
	var query referraldomain.ListReferralsRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.referralSvc.List(c.Request.Context(), referraldomain.ListReferralsRequest{
		ReferrerID: strings.TrimSpace(query.ReferrerID),
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
