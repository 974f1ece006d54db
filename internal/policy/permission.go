package policy

import "strings"

// Action describes the kind of operation a user wants to perform.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
)

// Resource names used in permissions.
const (
	ResourceCustomer    = "customer"
	ResourceLead        = "lead"
	ResourceProduct     = "product"
	ResourceQuote       = "quote"
	ResourceAppointment = "appointment"
	ResourceVisit       = "visit"
	ResourceMedia       = "media"
	ResourceDashboard   = "dashboard"
	ResourceBoiler      = "boiler"
	ResourceUser        = "user"
)

// Permission represents an allowed action on a resource type.
// Format: "resource:action" (e.g., "quote:create", "visit:view")
type Permission string

func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// Parse splits a permission into resource type and action.
func (p Permission) Parse() (resourceType string, action Action) {
	res, act, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return res, Action(act)
}

const (
	WildcardAll                     = "*"
	PermissionSuperAdmin Permission = "*:*"
)

// Matches reports whether p grants requested. "*:*" grants everything,
// "quote:*" every quote action and "*:view" viewing any resource.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Parse()
	reqRes, reqAct := requested.Parse()
	if res == "" || reqRes == "" {
		return false
	}
	if res == reqRes && string(act) == WildcardAll {
		return true
	}
	return res == WildcardAll && act == reqAct
}
