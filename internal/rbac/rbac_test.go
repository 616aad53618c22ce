package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleReader, ActionRead, true},
		{RoleReader, ActionComment, true},
		{RoleReader, ActionPublish, false},
		{RoleReader, ActionAdmin, false},
		{RoleWriter, ActionPublish, true},
		{RoleWriter, ActionAdmin, false},
		{RoleAdmin, ActionAdmin, true},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalizeFallsBackToReader(t *testing.T) {
	if got := Normalize("superuser"); got != RoleReader {
		t.Fatalf("Normalize(superuser) = %s, want reader", got)
	}
	if got := Normalize("writer"); got != RoleWriter {
		t.Fatalf("Normalize(writer) = %s, want writer", got)
	}
}
