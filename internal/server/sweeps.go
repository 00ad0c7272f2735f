package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const manualSweepBatchSize = 100

// TriggerFeaturingSweep runs one featuring expiry plus viral re-evaluation
// pass immediately instead of waiting for the scheduler tick.
func (s *Server) TriggerFeaturingSweep(c *gin.Context) {
	result, err := s.engineSvc.RunFeaturingSweep(c.Request.Context(), manualSweepBatchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// TriggerShowcaseRefresh runs one showcase curation cycle immediately.
func (s *Server) TriggerShowcaseRefresh(c *gin.Context) {
	result, err := s.engineSvc.RunShowcaseRefresh(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.readCache != nil {
		s.readCache.InvalidateShowcase()
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
