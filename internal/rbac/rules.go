package rbac

const (
	PermTestTake       = "test:take"
	PermTestManage     = "test:manage"
	PermTestStats      = "test:stats"
	PermAttemptViewOwn = "attempt:view-own"
	PermAttemptGrade   = "attempt:grade"
	PermAttemptCleanup = "attempt:cleanup"
)

// RolePermissions is the default policy. Ownership of a particular test is
// checked by the engine, not here.
var RolePermissions = map[string][]string{
	"student": {
		PermTestTake,
		PermAttemptViewOwn,
	},
	"teacher": {
		PermTestTake,
		PermAttemptViewOwn,
		"test:*",
		PermAttemptGrade,
	},
	"admin": {
		"*", // everything
	},
}
