package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("ldap://localhost/dc=example,dc=org"))
	assert.True(t, IsURL("ldaps://ds.example.org:636/"))
	assert.False(t, IsURL("http://example.org"))
	assert.False(t, IsURL("cn=admins,dc=example,dc=org"))
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    URL
		wantErr bool
	}{
		{
			name:  "full url",
			input: "ldap://ds.example.org:389/ou=people,dc=example,dc=org?uid?sub?(objectClass=person)",
			want: URL{
				Scheme:     "ldap",
				Host:       "ds.example.org",
				Port:       389,
				DN:         "ou=people,dc=example,dc=org",
				Attributes: []string{"uid"},
				Scope:      ScopeWholeSubtree,
				Filter:     "(objectClass=person)",
			},
		},
		{
			name:  "defaults applied",
			input: "ldap:///ou=people,dc=example,dc=org?mail",
			want: URL{
				Scheme:     "ldap",
				DN:         "ou=people,dc=example,dc=org",
				Attributes: []string{"mail"},
				Scope:      ScopeBaseObject,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:  "host without port",
			input: "ldaps://ds.example.org/dc=example,dc=org?cn?one",
			want: URL{
				Scheme:     "ldaps",
				Host:       "ds.example.org",
				DN:         "dc=example,dc=org",
				Attributes: []string{"cn"},
				Scope:      ScopeSingleLevel,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:  "multiple attributes",
			input: "ldap:///dc=example,dc=org?uid,mail?sub",
			want: URL{
				Scheme:     "ldap",
				DN:         "dc=example,dc=org",
				Attributes: []string{"uid", "mail"},
				Scope:      ScopeWholeSubtree,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:  "percent-encoded dn",
			input: "ldap:///ou=network%20admins,dc=example,dc=org?cn",
			want: URL{
				Scheme:     "ldap",
				DN:         "ou=network admins,dc=example,dc=org",
				Attributes: []string{"cn"},
				Scope:      ScopeBaseObject,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:  "ipv6 host without port",
			input: "ldap://[::1]/dc=example,dc=org?uid",
			want: URL{
				Scheme:     "ldap",
				Host:       "::1",
				DN:         "dc=example,dc=org",
				Attributes: []string{"uid"},
				Scope:      ScopeBaseObject,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:  "ipv6 host with port",
			input: "ldaps://[2001:db8::10]:636/dc=example,dc=org?cn",
			want: URL{
				Scheme:     "ldaps",
				Host:       "2001:db8::10",
				Port:       636,
				DN:         "dc=example,dc=org",
				Attributes: []string{"cn"},
				Scope:      ScopeBaseObject,
				Filter:     "(objectClass=*)",
			},
		},
		{
			name:    "unbracketed ipv6 host",
			input:   "ldap://::1]:389/dc=example,dc=org",
			wantErr: true,
		},
		{
			name:    "not an ldap url",
			input:   "http://example.org/",
			wantErr: true,
		},
		{
			name:    "invalid scope",
			input:   "ldap:///dc=example,dc=org?uid?tree",
			wantErr: true,
		},
		{
			name:    "invalid port",
			input:   "ldap://ds.example.org:notaport/dc=example,dc=org",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}
