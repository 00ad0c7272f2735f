package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetShowcase returns the public ranked showcase. The list only changes on
// refresh cycles, so reads are served from a short-lived cache.
func (s *Server) GetShowcase(c *gin.Context) {
	if s.readCache != nil {
		if entries, ok := s.readCache.GetShowcase(); ok {
			c.JSON(http.StatusOK, gin.H{"data": entries})
			return
		}
	}

	entries, err := s.showcaseSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.readCache != nil {
		s.readCache.SetShowcase(entries)
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
