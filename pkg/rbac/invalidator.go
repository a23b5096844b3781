package rbac

import (
	"context"
	"io"

	"github.com/platinummonkey/hub/pkg/observability"
)

// Invalidation reasons, used as the metric label
const (
	ReasonRoleAttached      = "role_attached"
	ReasonRoleDetached      = "role_detached"
	ReasonUserPermission    = "user_permission"
	ReasonRolePermission    = "role_permission"
	ReasonOverride          = "override"
	ReasonRoleUpdated       = "role_updated"
	ReasonRoleDeleted       = "role_deleted"
	ReasonPermissionUpdated = "permission_updated"
	ReasonPermissionDeleted = "permission_deleted"
	ReasonManualFlush       = "manual_flush"
)

// HolderSource enumerates the users affected by a role or permission change
type HolderSource interface {
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	UsersWithPermission(ctx context.Context, permissionID int64) ([]int64, error)
}

// UserInvalidator drops the cached permission sets of one user
type UserInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Invalidator translates data changes into cache invalidations. Failures are
// logged and counted but never returned: the write they follow has already
// committed.
type Invalidator struct {
	holders HolderSource
	cache   UserInvalidator
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewInvalidator creates a new Invalidator
func NewInvalidator(holders HolderSource, cache UserInvalidator, logger *observability.Logger, metrics *observability.Metrics) *Invalidator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Invalidator{holders: holders, cache: cache, logger: logger, metrics: metrics}
}

// OnRoleAttached handles a role assigned to a user
func (i *Invalidator) OnRoleAttached(ctx context.Context, userID int64) {
	i.invalidateUsers(ctx, ReasonRoleAttached, userID)
}

// OnRoleDetached handles a role revoked from a user
func (i *Invalidator) OnRoleDetached(ctx context.Context, userID int64) {
	i.invalidateUsers(ctx, ReasonRoleDetached, userID)
}

// OnPermissionAttachedToUser handles a direct grant
func (i *Invalidator) OnPermissionAttachedToUser(ctx context.Context, userID int64) {
	i.invalidateUsers(ctx, ReasonUserPermission, userID)
}

// OnPermissionDetachedFromUser handles a revoked direct grant
func (i *Invalidator) OnPermissionDetachedFromUser(ctx context.Context, userID int64) {
	i.invalidateUsers(ctx, ReasonUserPermission, userID)
}

// OnPermissionAttachedToRole handles a permission added to a role
func (i *Invalidator) OnPermissionAttachedToRole(ctx context.Context, roleID int64) {
	i.invalidateRoleHolders(ctx, ReasonRolePermission, roleID)
}

// OnPermissionDetachedFromRole handles a permission removed from a role
func (i *Invalidator) OnPermissionDetachedFromRole(ctx context.Context, roleID int64) {
	i.invalidateRoleHolders(ctx, ReasonRolePermission, roleID)
}

// OnOverrideWritten handles any created, updated or deleted override of a user
func (i *Invalidator) OnOverrideWritten(ctx context.Context, userID int64) {
	i.invalidateUsers(ctx, ReasonOverride, userID)
}

// OnRoleUpdated handles a renamed or otherwise edited role
func (i *Invalidator) OnRoleUpdated(ctx context.Context, roleID int64) {
	i.invalidateRoleHolders(ctx, ReasonRoleUpdated, roleID)
}

// OnRoleDeleted handles a deleted role. holders must be enumerated before
// the delete, while the assignments still exist.
func (i *Invalidator) OnRoleDeleted(ctx context.Context, roleID int64, holders []int64) {
	i.logger.WithFields(map[string]interface{}{"role_id": roleID, "users": len(holders)}).Debug("Invalidating holders of deleted role")
	i.invalidateUsers(ctx, ReasonRoleDeleted, holders...)
}

// OnPermissionUpdated handles an edited permission
func (i *Invalidator) OnPermissionUpdated(ctx context.Context, permissionID int64) {
	users, err := i.holders.UsersWithPermission(ctx, permissionID)
	if err != nil {
		i.enumerationFailed(ReasonPermissionUpdated, "permission_id", permissionID, err)
		return
	}
	i.invalidateUsers(ctx, ReasonPermissionUpdated, users...)
}

// OnPermissionDeleted handles a deleted permission. holders must be
// enumerated before the delete.
func (i *Invalidator) OnPermissionDeleted(ctx context.Context, permissionID int64, holders []int64) {
	i.logger.WithFields(map[string]interface{}{"permission_id": permissionID, "users": len(holders)}).Debug("Invalidating holders of deleted permission")
	i.invalidateUsers(ctx, ReasonPermissionDeleted, holders...)
}

// FlushUserCache drops every cached permission set of a user. Unlike the
// event hooks it reports failure to the caller.
func (i *Invalidator) FlushUserCache(ctx context.Context, userID int64) error {
	if err := i.cache.Invalidate(ctx, userID); err != nil {
		i.metrics.RecordInvalidationError(ReasonManualFlush)
		return err
	}
	i.metrics.RecordInvalidation(ReasonManualFlush)
	return nil
}

func (i *Invalidator) invalidateRoleHolders(ctx context.Context, reason string, roleID int64) {
	users, err := i.holders.UsersWithRole(ctx, roleID)
	if err != nil {
		i.enumerationFailed(reason, "role_id", roleID, err)
		return
	}
	i.invalidateUsers(ctx, reason, users...)
}

func (i *Invalidator) invalidateUsers(ctx context.Context, reason string, userIDs ...int64) {
	for _, userID := range userIDs {
		if err := i.cache.Invalidate(ctx, userID); err != nil {
			i.metrics.RecordInvalidationError(reason)
			i.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id": userID,
				"reason":  reason,
			}).Error("Permission cache invalidation failed")
			continue
		}
		i.metrics.RecordInvalidation(reason)
	}
}

func (i *Invalidator) enumerationFailed(reason, field string, id int64, err error) {
	i.metrics.RecordInvalidationError(reason)
	i.logger.WithError(err).WithFields(map[string]interface{}{
		field:    id,
		"reason": reason,
	}).Error("Failed to enumerate users for cache invalidation")
}
