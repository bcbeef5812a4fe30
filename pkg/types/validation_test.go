package types

import "testing"

func TestIsValidRoomCode(t *testing.T) {
	cases := []struct {
		code  string
		valid bool
	}{
		{"10000", true},
		{"99999", true},
		{"54321", true},
		{"09999", false}, // leading zero is outside the generated range
		{"1234", false},
		{"123456", false},
		{"12a45", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsValidRoomCode(tc.code); got != tc.valid {
			t.Errorf("IsValidRoomCode(%q) = %v, want %v", tc.code, got, tc.valid)
		}
	}
}

func TestValidateRole(t *testing.T) {
	if !ValidateRole(RoleHost) || !ValidateRole(RoleStudent) {
		t.Error("host and student must be valid roles")
	}
	if ValidateRole("instructor") || ValidateRole("") {
		t.Error("unknown roles must be rejected")
	}
}
