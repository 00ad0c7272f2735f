package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/event/livefeed"
)

func TestStreamSiteLiveEventsReplaysBacklog(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := livefeed.NewHub()

	// An anchor subscriber keeps the stream alive so the publish below
	// lands in the backlog buffer.
	anchor, _, err := hub.Subscribe("101")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer anchor.Close()

	hub.Publish("101", livefeed.LiveEvent{
		Kind:     "site.shared",
		SiteID:   "101",
		Platform: "twitter",
		Status:   livefeed.StatusAccepted,
		Source:   livefeed.SourceAPI,
	})

	srv := &Server{liveFeed: hub, siteSvc: &fakeSiteService{}}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/v1/sites/:site_id/events/live", srv.StreamSiteLiveEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/sites/101/events/live", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", got)
	}

	body := resp.Body.String()
	if !strings.Contains(body, "retry: 2000") {
		t.Fatalf("expected retry hint in stream, got %q", body)
	}
	if !strings.Contains(body, `"kind":"site.shared"`) {
		t.Fatalf("expected backlog event in stream, got %q", body)
	}
	if !resp.Flushed {
		t.Fatal("expected stream to be flushed")
	}
}

func TestStreamSiteLiveEventsWithoutHubIsUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{siteSvc: &fakeSiteService{}}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/v1/sites/:site_id/events/live", srv.StreamSiteLiveEvents)

	req := httptest.NewRequest(http.MethodGet, "/v1/sites/101/events/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}
