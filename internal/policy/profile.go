package policy

import "github.com/diewo77/go-heatcrm/internal/models"

// Profile is the permission set granted to a role.
type Profile struct {
	Name        string
	Permissions []Permission
}

func (p Profile) HasPermission(requested Permission) bool {
	for _, perm := range p.Permissions {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

func (p Profile) IsAdmin() bool { return p.HasPermission(PermissionSuperAdmin) }

// staffResources are fully writable by office and surveyor users.
var staffResources = []string{
	ResourceCustomer, ResourceLead, ResourceProduct, ResourceQuote,
	ResourceAppointment, ResourceVisit, ResourceMedia, ResourceDashboard,
}

func staffPermissions() []Permission {
	perms := make([]Permission, 0, len(staffResources)+4)
	for _, r := range staffResources {
		perms = append(perms, NewPermission(r, WildcardAll))
	}
	return append(perms,
		NewPermission(ResourceBoiler, ActionList),
		NewPermission(ResourceBoiler, ActionView),
		NewPermission(ResourceUser, ActionList),
		NewPermission(ResourceUser, ActionView),
	)
}

var profiles = map[models.UserRole]Profile{
	models.RoleAdmin:    {Name: "admin", Permissions: []Permission{PermissionSuperAdmin}},
	models.RoleOffice:   {Name: "office", Permissions: staffPermissions()},
	models.RoleSurveyor: {Name: "surveyor", Permissions: staffPermissions()},
	models.RoleReadonly: {Name: "readonly", Permissions: []Permission{
		NewPermission(WildcardAll, ActionList),
		NewPermission(WildcardAll, ActionView),
	}},
}

// ProfileFor returns the profile of role. Unknown roles get no permissions.
func ProfileFor(role models.UserRole) Profile {
	if p, ok := profiles[role]; ok {
		return p
	}
	return Profile{Name: string(role)}
}
