// Package authorization enforces role-based access for growth operations.
// Authentication is out of scope; the hosting layer supplies an actor
// string ("system", "service:<name>", "admin:<id>", "user:<id>") and this
// package decides whether that actor may perform an action on an object.
package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSite     = "site"
	ObjectUser     = "user"
	ObjectReferral = "referral"
	ObjectEvent    = "event"
	ObjectShowcase = "showcase"
	ObjectSweep    = "sweep"
)

const (
	ActionEventAppend = "event.append"

	ActionSiteView    = "site.view"
	ActionSiteCreate  = "site.create"
	ActionSiteUpdate  = "site.update"
	ActionSiteSuspend = "site.suspend"
	ActionSiteFeature = "site.feature"

	ActionUserView   = "user.view"
	ActionUserCreate = "user.create"
	ActionUserUpdate = "user.update"

	ActionReferralView     = "referral.view"
	ActionReferralCreate   = "referral.create"
	ActionReferralActivate = "referral.activate"

	ActionShowcaseView = "showcase.view"

	ActionSweepFeaturing  = "sweep.featuring"
	ActionSweepShowcase   = "sweep.showcase"
	ActionSweepCommission = "sweep.commission"
	ActionSweepGrants     = "sweep.grants"
	ActionSweepDispatch   = "sweep.dispatch"
	ActionSweepRecovery   = "sweep.recovery"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize reports via error whether the actor may perform the action
	// on the object. ErrForbidden means the policy denied it.
	Authorize(ctx context.Context, actor string, object string, action string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := resolveActor(actor)
	if err != nil {
		s.logDenied(actor, object, action, err)
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, object, action, ErrForbidden)
		return ErrForbidden
	}

	if sensitiveAction(action) {
		s.log.Info("authorization.granted",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
	}
	return nil
}

// resolveActor maps an actor string to its casbin subject and role. Roles
// are coarse: every authenticated user is a member; elevated access comes
// from the admin or service prefixes the hosting layer assigns.
func resolveActor(actor string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if name, ok := strings.CutPrefix(actor, "service:"); ok {
		if strings.TrimSpace(name) == "" {
			return "", "", ErrInvalidActor
		}
		return actor, "role:service", nil
	}
	if raw, ok := strings.CutPrefix(actor, "admin:"); ok {
		if _, err := parseActorID(raw); err != nil {
			return "", "", ErrInvalidActor
		}
		return actor, "role:admin", nil
	}
	if raw, ok := strings.CutPrefix(actor, "user:"); ok {
		if _, err := parseActorID(raw); err != nil {
			return "", "", ErrInvalidActor
		}
		return actor, "role:member", nil
	}
	return "", "", ErrInvalidActor
}

func parseActorID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrInvalidActor
	}
	return id, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) logDenied(actor, object, action string, cause error) {
	s.log.Warn("authorization.denied",
		zap.String("actor", actor),
		zap.String("object", object),
		zap.String("action", action),
		zap.String("cause", cause.Error()),
	)
}

func sensitiveAction(action string) bool {
	switch action {
	case ActionSiteSuspend, ActionSiteFeature, ActionSweepFeaturing, ActionSweepShowcase, ActionSweepRecovery:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Members create their own growth surface and read everything
		// visibility rules expose.
		{"role:member", ObjectEvent, ActionEventAppend},
		{"role:member", ObjectSite, ActionSiteView},
		{"role:member", ObjectSite, ActionSiteCreate},
		{"role:member", ObjectSite, ActionSiteUpdate},
		{"role:member", ObjectUser, ActionUserView},
		{"role:member", ObjectReferral, ActionReferralView},
		{"role:member", ObjectReferral, ActionReferralCreate},
		{"role:member", ObjectShowcase, ActionShowcaseView},

		// Services ingest on behalf of members and manage accounts.
		{"role:service", ObjectEvent, ActionEventAppend},
		{"role:service", ObjectSite, ActionSiteView},
		{"role:service", ObjectSite, ActionSiteCreate},
		{"role:service", ObjectSite, ActionSiteUpdate},
		{"role:service", ObjectUser, ActionUserView},
		{"role:service", ObjectUser, ActionUserCreate},
		{"role:service", ObjectUser, ActionUserUpdate},
		{"role:service", ObjectReferral, ActionReferralView},
		{"role:service", ObjectReferral, ActionReferralCreate},
		{"role:service", ObjectReferral, ActionReferralActivate},
		{"role:service", ObjectShowcase, ActionShowcaseView},

		// Admins additionally suspend or feature sites and trigger sweeps.
		{"role:admin", ObjectSite, ActionSiteSuspend},
		{"role:admin", ObjectSite, ActionSiteFeature},
		{"role:admin", ObjectSweep, ActionSweepFeaturing},
		{"role:admin", ObjectSweep, ActionSweepShowcase},
		{"role:admin", ObjectSweep, ActionSweepRecovery},

		// The scheduler and recovery paths run as system.
		{"role:system", ObjectEvent, ActionEventAppend},
		{"role:system", ObjectSite, ActionSiteSuspend},
		{"role:system", ObjectSweep, ActionSweepFeaturing},
		{"role:system", ObjectSweep, ActionSweepShowcase},
		{"role:system", ObjectSweep, ActionSweepCommission},
		{"role:system", ObjectSweep, ActionSweepGrants},
		{"role:system", ObjectSweep, ActionSweepDispatch},
		{"role:system", ObjectSweep, ActionSweepRecovery},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Admins inherit member and service verbs; system inherits admin.
	groupings := [][]string{
		{"role:admin", "role:service"},
		{"role:service", "role:member"},
		{"role:system", "role:admin"},
	}
	for _, grouping := range groupings {
		if _, err := enforcer.AddGroupingPolicy(grouping[0], grouping[1]); err != nil {
			return err
		}
	}
	return nil
}
