package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/hub/pkg/contextkeys"
)

// EventType identifies an audited action
type EventType string

const (
	EventTypePermissionCreate EventType = "authz.permission_create"
	EventTypePermissionUpdate EventType = "authz.permission_update"
	EventTypePermissionDelete EventType = "authz.permission_delete"
	EventTypeRoleCreate       EventType = "authz.role_create"
	EventTypeRoleUpdate       EventType = "authz.role_update"
	EventTypeRoleDelete       EventType = "authz.role_delete"
	EventTypeRolePermissions  EventType = "authz.role_permissions"
	EventTypeRoleAssign       EventType = "authz.role_assign"
	EventTypeRoleRevoke       EventType = "authz.role_revoke"
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeOverrideWrite    EventType = "authz.override_write"
	EventTypeOverrideDelete   EventType = "authz.override_delete"
	EventTypeOverridePurge    EventType = "authz.override_purge"
	EventTypeCacheFlush       EventType = "authz.cache_flush"
	EventTypeTenantProvision  EventType = "tenant.provision"
)

// Event is a single audited change
type Event struct {
	ID           int64                  `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	ActorID      *int64                 `json:"actor_id,omitempty"`
	TargetUserID *int64                 `json:"target_user_id,omitempty"`
	TenantID     *int64                 `json:"tenant_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with the current time and request ID
func NewEvent(ctx context.Context, eventType EventType, resourceType, resourceID string) *Event {
	return &Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    contextkeys.GetRequestID(ctx),
		Metadata:     make(map[string]interface{}),
	}
}

// Logger is the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// NoopLogger discards all events
type NoopLogger struct{}

// Log implements Logger
func (NoopLogger) Log(context.Context, *Event) error { return nil }
