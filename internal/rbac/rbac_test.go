package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: true},
		{name: "guest comment", role: RoleGuest, action: ActionComment, allow: true},
		{name: "guest write", role: RoleGuest, action: ActionWrite, allow: false},
		{name: "guest manage", role: RoleGuest, action: ActionManage, allow: false},
		{name: "member write", role: RoleMember, action: ActionWrite, allow: true},
		{name: "member manage", role: RoleMember, action: ActionManage, allow: false},
		{name: "manager manage", role: RoleManager, action: ActionManage, allow: true},
		{name: "manager admin", role: RoleManager, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("manager"); got != RoleManager {
		t.Fatalf("Normalize(manager) = %q, want %q", got, RoleManager)
	}
	if got := Normalize("superuser"); got != RoleGuest {
		t.Fatalf("Normalize(superuser) = %q, want %q", got, RoleGuest)
	}
}
