package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

func (s *Server) CreateSite(c *gin.Context) {
	var req sitedomain.CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.siteSvc.Create(c.Request.Context(), sitedomain.CreateSiteRequest{
		UserID: strings.TrimSpace(req.UserID),
		Name:   strings.TrimSpace(req.Name),
		Tags:   req.Tags,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSites(c *gin.Context) {
	var query sitedomain.ListSitesRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.siteSvc.List(c.Request.Context(), sitedomain.ListSitesRequest{
		UserID:    strings.TrimSpace(query.UserID),
		Status:    strings.TrimSpace(query.Status),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetSiteSnapshot returns the persisted growth state of one site: counters,
// owner boost and commission, active featuring. It never recomputes.
func (s *Server) GetSiteSnapshot(c *gin.Context) {
	siteID, err := siteIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.engineSvc.ReadSiteSnapshot(c.Request.Context(), siteID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

func (s *Server) SetSiteStatus(c *gin.Context) {
	var req sitedomain.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SiteID = strings.TrimSpace(c.Param("site_id"))
	req.Status = strings.TrimSpace(req.Status)

	resp, err := s.siteSvc.SetStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateSiteCounters(c *gin.Context) {
	var req sitedomain.UpdateCountersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SiteID = strings.TrimSpace(c.Param("site_id"))

	resp, err := s.siteSvc.UpdateCounters(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// FeatureSite opens an administrative featuring window for the site. The
// window expires through the regular sweep like any other.
func (s *Server) FeatureSite(c *gin.Context) {
	siteID, err := siteIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.featuringSvc.FeatureManually(c.Request.Context(), siteID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.readCache != nil {
		s.readCache.InvalidateSite(siteID.String())
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ListSiteFeaturings returns the featuring history of one site, newest
// first, including expired windows.
func (s *Server) ListSiteFeaturings(c *gin.Context) {
	siteID, err := siteIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.featuringSvc.ListBySite(c.Request.Context(), siteID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

func siteIDParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("site_id"))
	if raw == "" {
		return 0, newValidationError("site_id", "invalid_site_id", "invalid site_id")
	}
	siteID, err := snowflake.ParseString(raw)
	if err != nil || siteID == 0 {
		return 0, newValidationError("site_id", "invalid_site_id", "invalid site_id")
	}
	return siteID, nil
}

// peekStatusTarget reads the target status from the body without consuming
// it, so the handler can still bind the full request.
func peekStatusTarget(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", invalidRequestError()
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.Status), nil
}
