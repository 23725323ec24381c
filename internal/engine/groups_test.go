package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
)

const (
	adminsDN = "cn=admins,ou=groups,dc=example,dc=org"
	usersDN  = "cn=users,ou=groups,dc=example,dc=org"
)

func TestCheckGroupMembershipEmptyIdentifier(t *testing.T) {
	broker := &mockBroker{}
	eng := newTestEngine(t, nil, broker)

	assert.False(t, eng.CheckGroupMembership(context.Background(), request.New("alice", ""), ""))
	broker.AssertNotCalled(t, "Acquire", mock.Anything)
}

func TestCheckGroupMembershipCacheHit(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Group.CacheableName = true
		c.Group.CacheableDN = true
		c.Group.MembershipAttribute = "memberOf"
	})
	broker := &mockBroker{}
	eng := newTestEngine(t, cfg, broker)

	req := request.New("alice", "")
	req.AddCheck(DefaultGroupCacheAttr, "admins", request.OpAdd)
	req.AddCheck(DefaultGroupCacheAttr, adminsDN, request.OpAdd)

	assert.True(t, eng.CheckGroupMembership(context.Background(), req, "admins"))
	assert.True(t, eng.CheckGroupMembership(context.Background(), req, "ADMINS"))
	assert.True(t, eng.CheckGroupMembership(context.Background(), req, "CN=Admins,OU=Groups,DC=Example,DC=Org"))

	// Cache hits answer without touching the directory.
	broker.AssertNotCalled(t, "Acquire", mock.Anything)
}

func TestCheckGroupMembershipUserObjAttribute(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipAttribute = "memberOf"
	})

	sess := &mockSession{}
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return strings.HasPrefix(req.Filter, "(uid=")
	})).Return(searchResult(userEntry(aliceDN, map[string][]string{
		"memberOf": {usersDN, adminsDN},
	})), nil)
	broker := newBrokerWith(sess)
	eng := newTestEngine(t, cfg, broker)

	ctx := context.Background()
	assert.True(t, eng.CheckGroupMembership(ctx, request.New("alice", ""), adminsDN))
	assert.False(t, eng.CheckGroupMembership(ctx, request.New("alice", ""), "cn=ops,ou=groups,dc=example,dc=org"))
}

func TestCheckGroupMembershipUserObjNameResolution(t *testing.T) {
	// A plain-name group identifier against DN-valued membership attributes
	// requires resolving each DN to its name.
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipAttribute = "memberOf"
	})

	sess := &mockSession{}
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return strings.HasPrefix(req.Filter, "(uid=")
	})).Return(searchResult(userEntry(aliceDN, map[string][]string{
		"memberOf": {adminsDN},
	})), nil)
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return req.BaseDN == adminsDN && req.Scope == directory.ScopeBaseObject
	})).Return(searchResult(userEntry(adminsDN, map[string][]string{
		"cn": {"admins"},
	})), nil)
	broker := newBrokerWith(sess)
	eng := newTestEngine(t, cfg, broker)

	assert.True(t, eng.CheckGroupMembership(context.Background(), request.New("alice", ""), "admins"))
}

func TestCheckGroupMembershipGroupObjFilter(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipFilter = "(member=%{LDAP-UserDN})"
	})

	tests := []struct {
		name       string
		groupHits  []string
		wantMember bool
	}{
		{"filter matches a group object", []string{adminsDN}, true},
		{"filter matches nothing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &mockSession{}
			sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
				return strings.HasPrefix(req.Filter, "(uid=")
			})).Return(searchResult(userEntry(aliceDN, nil)), nil)

			groupResult := searchResult()
			for _, dn := range tt.groupHits {
				groupResult.Entries = append(groupResult.Entries, userEntry(dn, nil))
			}
			sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
				return strings.Contains(req.Filter, "cn=admins") || strings.Contains(req.Filter, "(member=")
			})).Return(groupResult, nil)

			broker := newBrokerWith(sess)
			eng := newTestEngine(t, cfg, broker)

			got := eng.CheckGroupMembership(context.Background(), request.New("alice", ""), "admins")
			assert.Equal(t, tt.wantMember, got)
		})
	}
}

func TestCheckGroupMembershipOrAcrossStrategies(t *testing.T) {
	// The group-object filter finds nothing, but the user object's
	// membership attribute still proves membership.
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipFilter = "(member=%{LDAP-UserDN})"
		c.Group.MembershipAttribute = "memberOf"
	})

	sess := &mockSession{}
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return strings.HasPrefix(req.Filter, "(uid=")
	})).Return(searchResult(userEntry(aliceDN, map[string][]string{
		"memberOf": {adminsDN},
	})), nil)
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return req.BaseDN == adminsDN
	})).Return(searchResult(), nil)
	broker := newBrokerWith(sess)
	eng := newTestEngine(t, cfg, broker)

	assert.True(t, eng.CheckGroupMembership(context.Background(), request.New("alice", ""), adminsDN))
}

func TestCheckGroupMembershipSessionFailure(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipAttribute = "memberOf"
	})
	broker := &mockBroker{}
	broker.On("Acquire", mock.Anything).Return(nil, errors.New("pool exhausted"))
	eng := newTestEngine(t, cfg, broker)

	assert.False(t, eng.CheckGroupMembership(context.Background(), request.New("alice", ""), "admins"))
}

func TestAuthorizePopulatesGroupCache(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Group.MembershipAttribute = "memberOf"
		c.Group.CacheableDN = true
	})

	sess := &mockSession{}
	sess.On("Search", mock.Anything, mock.MatchedBy(func(req *directory.SearchRequest) bool {
		return strings.HasPrefix(req.Filter, "(uid=")
	})).Return(searchResult(userEntry(aliceDN, map[string][]string{
		"memberOf": {usersDN, adminsDN},
	})), nil)
	broker := newBrokerWith(sess)
	eng := newTestEngine(t, cfg, broker)

	req := request.New("alice", "")
	outcome := eng.Authorize(context.Background(), req)

	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, []string{usersDN, adminsDN}, req.Check.Values(DefaultGroupCacheAttr))

	// A later membership check within the same request answers from the
	// cache without another directory round trip.
	sess.Calls = nil
	assert.True(t, eng.CheckGroupMembership(context.Background(), req, adminsDN))
	sess.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}
