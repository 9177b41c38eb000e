package server

import (
	"strings"
	"testing"
)

func TestAtoRole(t *testing.T) {
	var table = []struct {
		input  string
		output Role
	}{
		{"read", RoleRead},
		{"Read", RoleRead},
		{"admin", RoleAdmin},
		{"Admin", RoleAdmin},
		{"write", RoleUnknown},
		{"other", RoleUnknown},
	}

	for _, row := range table {
		result := atoRole(row.input)
		if result != row.output {
			t.Errorf("For %v received %v, expected %v", row.input, result, row.output)
		}
	}
}

func TestListDecoder(t *testing.T) {
	const tokens = `
# user role token
alice admin 1234
bob   read  abcd
carol read
dave  nonsense  xyz
`
	ld, err := NewListDecoder(strings.NewReader(tokens))
	if err != nil {
		t.Fatal(err)
	}
	var table = []struct {
		token string
		user  string
		role  Role
	}{
		{"1234", "alice", RoleAdmin},
		{"abcd", "bob", RoleRead},
		{"xyz", "dave", RoleUnknown},
		{"read", "", RoleUnknown},
		{"", "", RoleUnknown},
		{"zzzz", "", RoleUnknown},
	}
	for _, row := range table {
		user, role, err := ld.TokenDecode(row.token)
		if err != nil || user != row.user || role != row.role {
			t.Errorf("For %q received (%q, %v, %v), expected (%q, %v)",
				row.token, user, role, err, row.user, row.role)
		}
	}
}
