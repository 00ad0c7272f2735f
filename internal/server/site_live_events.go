package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/event/livefeed"
)

// StreamSiteLiveEvents streams the site's growth events over SSE. New
// subscribers replay the buffered backlog first, so a page refresh does
// not lose the last few events.
func (s *Server) StreamSiteLiveEvents(c *gin.Context) {
	if s.liveFeed == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	siteID, err := siteIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.siteSvc.Get(c.Request.Context(), siteID.String()); err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, backlog, err := s.liveFeed.Subscribe(siteID.String())
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeSiteLiveEvent(writer, siteID.String(), event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeSiteLiveEvent(writer, siteID.String(), event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSiteLiveEvent(w io.Writer, siteID string, event livefeed.LiveEvent) error {
	payload := event
	if payload.SiteID == "" {
		payload.SiteID = siteID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
