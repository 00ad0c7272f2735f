package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/cache"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
)

type fakeShowcaseService struct {
	listCalls int
	entries   []showcasedomain.ShowcaseEntry
}

func (f *fakeShowcaseService) Refresh(ctx context.Context) (*showcasedomain.RefreshResult, error) {
	_ = ctx
	return &showcasedomain.RefreshResult{}, nil
}

func (f *fakeShowcaseService) List(ctx context.Context) ([]showcasedomain.ShowcaseEntry, error) {
	f.listCalls++
	_ = ctx
	return f.entries, nil
}

func TestGetShowcaseCachesListing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	showcaseSvc := &fakeShowcaseService{entries: []showcasedomain.ShowcaseEntry{
		{ID: snowflake.ID(1), SiteID: snowflake.ID(101), Rank: 1, ViralScore: 80},
	}}
	srv := &Server{showcaseSvc: showcaseSvc, readCache: cache.NewSiteResolverCache()}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/v1/showcase", srv.GetShowcase)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/showcase", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
	}

	if showcaseSvc.listCalls != 1 {
		t.Fatalf("expected one service call across cached reads, got %d", showcaseSvc.listCalls)
	}
}

func TestGetShowcaseWithoutCacheHitsService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	showcaseSvc := &fakeShowcaseService{}
	srv := &Server{showcaseSvc: showcaseSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/v1/showcase", srv.GetShowcase)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/showcase", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
	}

	if showcaseSvc.listCalls != 2 {
		t.Fatalf("expected a service call per request without a cache, got %d", showcaseSvc.listCalls)
	}
}
