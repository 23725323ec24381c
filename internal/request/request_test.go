package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairsAdd(t *testing.T) {
	tests := []struct {
		name string
		add  []Pair
		want []Pair
	}{
		{
			name: "add appends duplicates",
			add: []Pair{
				{Name: "Group", Value: "admins", Op: OpAdd},
				{Name: "Group", Value: "users", Op: OpAdd},
			},
			want: []Pair{
				{Name: "Group", Value: "admins", Op: OpAdd},
				{Name: "Group", Value: "users", Op: OpAdd},
			},
		},
		{
			name: "set replaces first occurrence",
			add: []Pair{
				{Name: "Session-Timeout", Value: "300", Op: OpAdd},
				{Name: "Idle-Timeout", Value: "60", Op: OpAdd},
				{Name: "Session-Timeout", Value: "600", Op: OpSet},
			},
			want: []Pair{
				{Name: "Session-Timeout", Value: "600", Op: OpAdd},
				{Name: "Idle-Timeout", Value: "60", Op: OpAdd},
			},
		},
		{
			name: "set appends when absent",
			add: []Pair{
				{Name: "Framed-MTU", Value: "1400", Op: OpSet},
			},
			want: []Pair{
				{Name: "Framed-MTU", Value: "1400", Op: OpSet},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ps Pairs
			for _, p := range tt.add {
				ps.Add(p)
			}
			assert.Equal(t, Pairs(tt.want), ps)
		})
	}
}

func TestPairsFirstAndValues(t *testing.T) {
	var ps Pairs
	ps.Add(Pair{Name: "Group", Value: "admins"})
	ps.Add(Pair{Name: "Group", Value: "users"})
	ps.Add(Pair{Name: "Other", Value: "x"})

	first := ps.First("Group")
	require.NotNil(t, first)
	assert.Equal(t, "admins", first.Value)

	assert.Nil(t, ps.First("Missing"))
	assert.Equal(t, []string{"admins", "users"}, ps.Values("Group"))
	assert.Nil(t, ps.Values("Missing"))
}

func TestRequestGet(t *testing.T) {
	req := New("alice", "s3cret")
	req.Attrs.Add(Pair{Name: "Called-Station-Id", Value: "ap-1"})
	req.Attrs.Add(Pair{Name: "LDAP-UserDN", Value: "uid=mallory,dc=example,dc=org"})
	req.AddCheck("LDAP-UserDN", "uid=alice,dc=example,dc=org", OpSet)

	tests := []struct {
		name   string
		attr   string
		want   string
		wantOK bool
	}{
		{"username pseudo attribute", AttrUserName, "alice", true},
		{"password pseudo attribute", AttrUserPassword, "s3cret", true},
		{"packet attribute", "Called-Station-Id", "ap-1", true},
		{"check item wins over packet attribute", "LDAP-UserDN", "uid=alice,dc=example,dc=org", true},
		{"unknown attribute", "No-Such-Thing", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := req.Get(tt.attr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestUsernamePresence(t *testing.T) {
	withUser := New("", "")
	assert.True(t, withUser.HasUsername())
	assert.Empty(t, withUser.Username())

	anon := NewAnonymous()
	assert.False(t, anon.HasUsername())
	assert.NotEmpty(t, anon.ID)
	assert.NotEqual(t, anon.ID, withUser.ID)
}
