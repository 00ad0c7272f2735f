package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/authorization"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

type fakeAuthzService struct {
	granted [][3]string
	denied  map[string]error
}

func (f *fakeAuthzService) Authorize(ctx context.Context, actor string, object string, action string) error {
	_ = ctx
	if err, ok := f.denied[action]; ok {
		return err
	}
	f.granted = append(f.granted, [3]string{actor, object, action})
	return nil
}

type fakeSiteService struct {
	lastStatus sitedomain.SetStatusRequest
	statusErr  error
}

func (f *fakeSiteService) Create(ctx context.Context, req sitedomain.CreateSiteRequest) (*sitedomain.SiteResponse, error) {
	_ = ctx
	return &sitedomain.SiteResponse{Name: req.Name}, nil
}

func (f *fakeSiteService) Get(ctx context.Context, id string) (*sitedomain.SiteResponse, error) {
	_ = ctx
	return &sitedomain.SiteResponse{ID: id}, nil
}

func (f *fakeSiteService) List(ctx context.Context, req sitedomain.ListSitesRequest) (*sitedomain.ListSitesResponse, error) {
	_ = ctx
	_ = req
	return &sitedomain.ListSitesResponse{}, nil
}

func (f *fakeSiteService) SetStatus(ctx context.Context, req sitedomain.SetStatusRequest) (*sitedomain.SiteResponse, error) {
	_ = ctx
	f.lastStatus = req
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &sitedomain.SiteResponse{ID: req.SiteID, Status: sitedomain.SiteStatus(req.Status)}, nil
}

func (f *fakeSiteService) UpdateCounters(ctx context.Context, req sitedomain.UpdateCountersRequest) (*sitedomain.SiteResponse, error) {
	_ = ctx
	return &sitedomain.SiteResponse{ID: req.SiteID}, nil
}

func newAuthTestRouter(srv *Server) *gin.Engine {
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.Use(srv.ActorContext())
	return router
}

func TestAuthorizeRejectsMissingActor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{authzSvc: &fakeAuthzService{}}
	router := newAuthTestRouter(srv)
	router.GET("/v1/sites", srv.authorize(authorization.ObjectSite, authorization.ActionSiteView), srv.ListSites)

	req := httptest.NewRequest(http.MethodGet, "/v1/sites", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthorizeDeniedActorGets403(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authzSvc := &fakeAuthzService{denied: map[string]error{
		authorization.ActionSiteView: authorization.ErrForbidden,
	}}
	srv := &Server{authzSvc: authzSvc, siteSvc: &fakeSiteService{}}
	router := newAuthTestRouter(srv)
	router.GET("/v1/sites", srv.authorize(authorization.ObjectSite, authorization.ActionSiteView), srv.ListSites)

	req := httptest.NewRequest(http.MethodGet, "/v1/sites", nil)
	req.Header.Set(HeaderActor, "user:101")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestAuthorizePassesActorThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authzSvc := &fakeAuthzService{}
	srv := &Server{authzSvc: authzSvc, siteSvc: &fakeSiteService{}}
	router := newAuthTestRouter(srv)
	router.GET("/v1/sites", srv.authorize(authorization.ObjectSite, authorization.ActionSiteView), srv.ListSites)

	req := httptest.NewRequest(http.MethodGet, "/v1/sites", nil)
	req.Header.Set(HeaderActor, "user:101")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(authzSvc.granted) != 1 {
		t.Fatalf("expected one authorization check, got %d", len(authzSvc.granted))
	}
	got := authzSvc.granted[0]
	if got[0] != "user:101" || got[1] != authorization.ObjectSite || got[2] != authorization.ActionSiteView {
		t.Fatalf("unexpected authorization tuple: %v", got)
	}
}

func TestSetSiteStatusSuspensionUsesSuspendAction(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authzSvc := &fakeAuthzService{}
	siteSvc := &fakeSiteService{}
	srv := &Server{authzSvc: authzSvc, siteSvc: siteSvc}
	router := newAuthTestRouter(srv)
	router.PATCH("/v1/sites/:site_id/status", srv.SetSiteStatusAuthorized(), srv.SetSiteStatus)

	req := httptest.NewRequest(http.MethodPatch, "/v1/sites/101/status", bytes.NewBufferString(`{"status":"suspended"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActor, "admin:7")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(authzSvc.granted) != 1 || authzSvc.granted[0][2] != authorization.ActionSiteSuspend {
		t.Fatalf("expected site.suspend check, got %v", authzSvc.granted)
	}
	if siteSvc.lastStatus.SiteID != "101" || siteSvc.lastStatus.Status != "suspended" {
		t.Fatalf("unexpected status request: %+v", siteSvc.lastStatus)
	}
}

func TestSetSiteStatusCollaboratorTransitionUsesUpdateAction(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authzSvc := &fakeAuthzService{}
	srv := &Server{authzSvc: authzSvc, siteSvc: &fakeSiteService{}}
	router := newAuthTestRouter(srv)
	router.PATCH("/v1/sites/:site_id/status", srv.SetSiteStatusAuthorized(), srv.SetSiteStatus)

	req := httptest.NewRequest(http.MethodPatch, "/v1/sites/101/status", bytes.NewBufferString(`{"status":"building"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActor, "user:101")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(authzSvc.granted) != 1 || authzSvc.granted[0][2] != authorization.ActionSiteUpdate {
		t.Fatalf("expected site.update check, got %v", authzSvc.granted)
	}
}

func TestSetSiteStatusConflictMapsTo409(t *testing.T) {
	gin.SetMode(gin.TestMode)

	siteSvc := &fakeSiteService{statusErr: sitedomain.ErrSiteSuspended}
	srv := &Server{authzSvc: &fakeAuthzService{}, siteSvc: siteSvc}
	router := newAuthTestRouter(srv)
	router.PATCH("/v1/sites/:site_id/status", srv.SetSiteStatusAuthorized(), srv.SetSiteStatus)

	req := httptest.NewRequest(http.MethodPatch, "/v1/sites/101/status", bytes.NewBufferString(`{"status":"active"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActor, "user:101")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}
