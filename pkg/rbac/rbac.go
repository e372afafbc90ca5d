package rbac

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"notifyhub/pkg/apperr"
)

// 权限常量
const (
	PermissionReadNotification    = "notification:read"
	PermissionUpdateNotification  = "notification:update"
	PermissionPublishNotification = "notification:publish"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadNotification,
		PermissionUpdateNotification,
	},
	RoleAdmin: {
		PermissionReadNotification,
		PermissionUpdateNotification,
		PermissionPublishNotification,
	},
}

// Policy resolves roles from a static list of admin user ids. Every other
// authenticated user has RoleUser.
type Policy struct {
	admins map[uuid.UUID]struct{}
}

// NewPolicy parses the configured admin ids.
func NewPolicy(adminUserIDs []string) (*Policy, error) {
	admins := make(map[uuid.UUID]struct{}, len(adminUserIDs))
	for _, raw := range adminUserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid admin user id %q: %w", raw, err)
		}
		admins[id] = struct{}{}
	}
	return &Policy{admins: admins}, nil
}

// RoleOf 获取用户角色
func (p *Policy) RoleOf(userID uuid.UUID) string {
	if _, ok := p.admins[userID]; ok {
		return RoleAdmin
	}
	return RoleUser
}

// HasPermission 检查用户是否有指定权限
func (p *Policy) HasPermission(userID uuid.UUID, permission string) bool {
	permissions, ok := rolePermissions[p.RoleOf(userID)]
	if !ok {
		return false
	}
	return slices.Contains(permissions, permission)
}

// CheckPermission 返回 Forbidden 错误而不是布尔值，便于 handler 统一处理
func (p *Policy) CheckPermission(userID uuid.UUID, permission string) error {
	if !p.HasPermission(userID, permission) {
		return apperr.Forbidden("rbac.CheckPermission", "insufficient permissions: "+permission)
	}
	return nil
}
