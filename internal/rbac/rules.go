package rbac

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	"student": {
		"paper:generate",
		"paper:attempt",
		"attendance:mark",
	},
	"teacher": {
		"paper:*",
		"question:*",
		"attendance:*",
	},
	"admin": {
		"*", // everything
	},
}

// Can checks perm against the default policy.
func Can(role, perm string) bool { return defaultChecker.Has(role, perm) }

// Privileged reports whether role may read answer keys and act for others.
func Privileged(role string) bool { return Can(role, "paper:view-all") }
