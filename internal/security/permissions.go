// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// ErrPermissionDenied is recorded in the audit entry of every denial.
var ErrPermissionDenied = errors.New("permission denied")

// Resources and actions checked by the API.
const (
	ResourceNotification = "notification"
	ResourceAuditLog     = "audit_log"
	ResourceRateLimit    = "ratelimit"
	ResourceEvent        = "event"
	ResourceAccount      = "account"

	ActionRead     = "read"
	ActionUpdate   = "update"
	ActionSend     = "send"
	ActionBulkSend = "bulk_send"
	ActionExport   = "export"
	ActionPublish  = "publish"
	ActionCheck    = "check"
	ActionManage   = "manage"
)

// PermissionsConfig configures role assignments.
type PermissionsConfig struct {
	// Assignments maps actor ids to role names.
	Assignments map[string]string `koanf:"assignments"`
}

// Permissions evaluates role, resource and action triples against the
// embedded casbin policy. Actors without a role are denied.
type Permissions struct {
	enforcer *casbin.SyncedEnforcer
	roles    map[string]struct{}
	auditor  Auditor
	logger   zerolog.Logger

	// assignMu serializes delete-then-add in AssignRole
	assignMu sync.Mutex
}

// NewPermissions loads the embedded model and policy and applies the
// configured assignments.
func NewPermissions(cfg PermissionsConfig) (*Permissions, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	p := &Permissions{
		enforcer: enforcer,
		roles:    make(map[string]struct{}),
		logger:   logging.WithComponent("permissions"),
	}
	if err := p.loadPolicy(embeddedPolicy); err != nil {
		return nil, err
	}

	actors := make([]string, 0, len(cfg.Assignments))
	for actor := range cfg.Assignments {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	for _, actor := range actors {
		if err := p.AssignRole(actor, cfg.Assignments[actor]); err != nil {
			return nil, fmt.Errorf("assign role to %s: %w", actor, err)
		}
	}
	return p, nil
}

// WithAuditor records every denial through a.
func (p *Permissions) WithAuditor(a Auditor) *Permissions {
	p.auditor = a
	return p
}

// loadPolicy adds the p and g lines of a casbin CSV policy.
func (p *Permissions) loadPolicy(policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := p.enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
			p.roles[parts[1]] = struct{}{}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := p.enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
			p.roles[parts[1]] = struct{}{}
			p.roles[parts[2]] = struct{}{}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Roles returns the defined role names.
func (p *Permissions) Roles() []string {
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// IsRole reports whether role is defined by the policy.
func (p *Permissions) IsRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}

// AssignRole replaces the actor's role.
func (p *Permissions) AssignRole(actorID, role string) error {
	const op = "security.assign_role"
	if actorID == "" {
		return apperr.New(apperr.KindValidationFailed, op, "actor id is required")
	}
	if p.IsRole(actorID) {
		return apperr.New(apperr.KindValidationFailed, op, fmt.Sprintf("actor id %q collides with a role name", actorID))
	}
	if !p.IsRole(role) {
		return apperr.New(apperr.KindValidationFailed, op, fmt.Sprintf("unknown role %q", role))
	}

	p.assignMu.Lock()
	defer p.assignMu.Unlock()
	if _, err := p.enforcer.DeleteRolesForUser(actorID); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	if _, err := p.enforcer.AddRoleForUser(actorID, role); err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	return nil
}

// RoleOf returns the actor's directly assigned role.
func (p *Permissions) RoleOf(actorID string) (string, bool) {
	roles, err := p.enforcer.GetRolesForUser(actorID)
	if err != nil || len(roles) == 0 {
		return "", false
	}
	return roles[0], true
}

// RolesFor returns the actor's role and every role it inherits, sorted.
func (p *Permissions) RolesFor(actorID string) []string {
	roles, err := p.enforcer.GetImplicitRolesForUser(actorID)
	if err != nil {
		p.logger.Warn().Err(err).Str("actor_id", actorID).Msg("failed to resolve roles")
		return []string{}
	}
	sort.Strings(roles)
	return roles
}

// CheckPermission reports whether the actor may perform action on
// resource. Missing actors, unknown roles and evaluation errors deny.
// Every denial is audited.
func (p *Permissions) CheckPermission(ctx context.Context, actorID, resource, action string) bool {
	allowed := false
	if actorID != "" && !p.IsRole(actorID) {
		ok, err := p.enforcer.Enforce(actorID, resource, action)
		if err != nil {
			p.logger.Error().Err(err).Str("actor_id", actorID).Msg("permission evaluation failed")
		}
		allowed = ok && err == nil
	}
	if allowed {
		return true
	}

	metrics.PermissionDenials.WithLabelValues(resource, action).Inc()
	p.logger.Warn().
		Str("actor_id", actorID).
		Str("resource", resource).
		Str("action", action).
		Msg("permission denied")
	if p.auditor != nil {
		role, _ := p.RoleOf(actorID)
		p.auditor.Record(ctx, actorID, audit.ActionPermissionDenied, resource, "", map[string]interface{}{
			"action": action,
			"role":   role,
		}, ErrPermissionDenied)
	}
	return false
}
