// Package auth answers two questions for the workflow ontology: who is the
// caller behind a session token, and may they do X in organization Y.
package auth

import (
	"context"
	"time"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// RoleSuperAdmin holds every permission in every organization.
const RoleSuperAdmin = "super_admin"

// AnyOrganization is the organization id of platform-wide role grants.
const AnyOrganization = "*"

// Principal is an authenticated caller.
type Principal struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	SessionID      string `json:"sessionId"`
}

// Authorizer is the capability-check collaborator.
type Authorizer interface {
	RequireAuthenticatedUser(ctx context.Context, sessionID string) (*Principal, error)
	RequirePermission(ctx context.Context, p *Principal, permission, organizationID string) error
	CheckPermission(ctx context.Context, p *Principal, permission, organizationID string) bool
}

// StoreAuthorizer resolves sessions and role grants from the store.
type StoreAuthorizer struct {
	store store.Store
	now   func() time.Time
}

// NewStoreAuthorizer creates an Authorizer backed by s.
func NewStoreAuthorizer(s store.Store) *StoreAuthorizer {
	return &StoreAuthorizer{store: s, now: time.Now}
}

func (a *StoreAuthorizer) RequireAuthenticatedUser(ctx context.Context, sessionID string) (*Principal, error) {
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthenticated, "session id is required")
	}
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewError(schema.ErrCodeUnauthenticated, "invalid session")
		}
		return nil, schema.NewError(schema.ErrCodeStore, "load session").WithCause(err)
	}
	if !sess.ExpiresAt.IsZero() && !a.now().Before(sess.ExpiresAt) {
		return nil, schema.NewError(schema.ErrCodeUnauthenticated, "session expired")
	}
	return &Principal{UserID: sess.UserID, OrganizationID: sess.OrganizationID, SessionID: sess.ID}, nil
}

func (a *StoreAuthorizer) RequirePermission(ctx context.Context, p *Principal, permission, organizationID string) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeUnauthenticated, "not authenticated")
	}
	ok, err := a.hasPermission(ctx, p.UserID, permission, organizationID)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "check permission").WithCause(err)
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodePermissionDenied,
			"user %q lacks %s in organization %q", p.UserID, permission, organizationID)
	}
	return nil
}

func (a *StoreAuthorizer) CheckPermission(ctx context.Context, p *Principal, permission, organizationID string) bool {
	return a.RequirePermission(ctx, p, permission, organizationID) == nil
}

func (a *StoreAuthorizer) hasPermission(ctx context.Context, userID, permission, organizationID string) (bool, error) {
	for _, org := range []string{organizationID, AnyOrganization} {
		role, err := a.store.GetUserRole(ctx, userID, org)
		if schema.IsNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if role == RoleSuperAdmin {
			return true, nil
		}
		perms, err := a.store.ListRolePermissions(ctx, role)
		if err != nil {
			return false, err
		}
		for _, granted := range perms {
			if granted == permission {
				return true, nil
			}
		}
	}
	return false, nil
}

var _ Authorizer = (*StoreAuthorizer)(nil)
