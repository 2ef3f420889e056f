package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectGlosa      = "glosa"
	ObjectAssignment = "assignment"
)

const (
	ActionGlosaDecide       = "glosa.decide"
	ActionAssignmentBatch   = "assignment.batch"
	ActionAssignmentRelease = "assignment.release"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Roster   rosterdomain.Service
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	roster   rosterdomain.Service
}

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
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		roster:   p.Roster,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
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

	roles, err := s.rolesFor(ctx, actorID)
	if err != nil {
		if errors.Is(err, rosterdomain.ErrNotFound) {
			s.logDenied(actorID, object, action, "unknown_actor")
			return ErrForbidden
		}
		return err
	}

	subject := subjectFor(actorID)
	if err := s.ensureGrouping(subject, roles); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actorID, object, action, "policy")
		return ErrForbidden
	}
	return nil
}

// rolesFor maps the roster roles of an active auditor to casbin role names.
// Inactive auditors hold no role.
func (s *ServiceImpl) rolesFor(ctx context.Context, actorID string) ([]string, error) {
	auditor, err := s.roster.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !auditor.Active {
		return nil, nil
	}
	roles := make([]string, 0, len(auditor.Roles))
	for _, role := range auditor.Roles {
		roles = append(roles, roleName(role))
	}
	sort.Strings(roles)
	return roles, nil
}

// ensureGrouping makes the stored groupings of subject equal to roles.
func (s *ServiceImpl) ensureGrouping(subject string, roles []string) error {
	want := make(map[string]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if want[rule[1]] {
			delete(want, rule[1])
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(subject, rule[1]); err != nil {
			return err
		}
	}

	for _, role := range roles {
		if !want[role] {
			continue
		}
		if _, err := s.enforcer.AddGroupingPolicy(subject, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServiceImpl) logDenied(actorID, object, action, reason string) {
	s.log.Warn("authorization denied",
		zap.String("actor_id", actorID),
		zap.String("object", object),
		zap.String("action", action),
		zap.String("reason", reason),
	)
}

func subjectFor(actorID string) string {
	return fmt.Sprintf("auditor:%s", actorID)
}

func roleName(role rosterdomain.Role) string {
	return fmt.Sprintf("role:%s", strings.ToLower(string(role)))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleName(rosterdomain.RoleConciliator), ObjectGlosa, ActionGlosaDecide},
		{roleName(rosterdomain.RoleCoordinator), ObjectAssignment, ActionAssignmentBatch},
		{roleName(rosterdomain.RoleCoordinator), ObjectAssignment, ActionAssignmentRelease},
		{roleName(rosterdomain.RoleMedicalAuditor), ObjectAssignment, ActionAssignmentRelease},
		{roleName(rosterdomain.RoleAdminAuditor), ObjectAssignment, ActionAssignmentRelease},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
