package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	userdomain "github.com/siteloom/growth/internal/user/domain"
)

func (s *Server) CreateUser(c *gin.Context) {
	var req userdomain.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.userSvc.Create(c.Request.Context(), userdomain.CreateUserRequest{
		Email:            strings.TrimSpace(req.Email),
		DisplayName:      strings.TrimSpace(req.DisplayName),
		SubscriptionTier: strings.TrimSpace(req.SubscriptionTier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetUser returns the growth profile: tier, boost level, viral coefficient
// and the effective commission rate.
func (s *Server) GetUser(c *gin.Context) {
	id := strings.TrimSpace(c.Param("user_id"))
	resp, err := s.userSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ListUserGrants returns the user's milestone grant history, active and
// expired.
func (s *Server) ListUserGrants(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grants, err := s.milestoneSvc.ListGrants(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": grants})
}

func userIDParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("user_id"))
	if raw == "" {
		return 0, newValidationError("user_id", "invalid_user_id", "invalid user_id")
	}
	userID, err := snowflake.ParseString(raw)
	if err != nil || userID == 0 {
		return 0, newValidationError("user_id", "invalid_user_id", "invalid user_id")
	}
	return userID, nil
}
