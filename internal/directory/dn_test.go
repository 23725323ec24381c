package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple dn", "cn=admins,ou=groups,dc=example,dc=org", true},
		{"single rdn", "dc=org", true},
		{"plain group name", "admins", false},
		{"empty string", "", false},
		{"name containing equals in filter-ish text", "a=)", true},
		{"unparseable", "cn=,=", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDN(tt.input))
		})
	}
}

func TestDNEqual(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{
			name: "identical",
			a:    "cn=admins,dc=example,dc=org",
			b:    "cn=admins,dc=example,dc=org",
			want: true,
		},
		{
			name: "case differs",
			a:    "CN=Admins,DC=Example,DC=Org",
			b:    "cn=admins,dc=example,dc=org",
			want: true,
		},
		{
			name: "whitespace after separators",
			a:    "cn=admins, dc=example, dc=org",
			b:    "cn=admins,dc=example,dc=org",
			want: true,
		},
		{
			name: "different objects",
			a:    "cn=admins,dc=example,dc=org",
			b:    "cn=users,dc=example,dc=org",
			want: false,
		},
		{
			name: "unparseable operand",
			a:    "not a dn",
			b:    "cn=admins,dc=example,dc=org",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DNEqual(tt.a, tt.b))
		})
	}
}

func TestEscapeDNValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no escaping needed", "jdoe", "jdoe"},
		{"empty", "", ""},
		{"comma and plus", "Doe, John+Jr", `Doe\, John\+Jr`},
		{"leading hash", "#tag", `\#tag`},
		{"interior hash untouched", "a#b", "a#b"},
		{"leading and trailing spaces", " padded ", `\ padded\ `},
		{"backslash and angle brackets", `a\<b>`, `a\\\<b\>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeDNValue(tt.input))
		})
	}
}
