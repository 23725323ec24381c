package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// noAttrsOID requests no attributes on searches that only need entry DNs.
const noAttrsOID = "1.1"

// CheckGroupMembership reports whether the request's user is a member of the
// given group, identified either by DN or by name. Up to three strategies
// are tried in order, OR-combined with short-circuiting: the request-scoped
// membership cache, a group-object membership filter, and the user object's
// membership attribute. Directory failures surface as "not a member", never
// as a retry.
func (e *Engine) CheckGroupMembership(ctx context.Context, req *request.Request, group string) bool {
	if group == "" {
		return false
	}
	groupIsDN := directory.IsDN(group)

	if (groupIsDN && e.cfg.Group.CacheableDN) || (!groupIsDN && e.cfg.Group.CacheableName) {
		for _, cached := range req.Check.Values(e.cfg.Group.CacheAttribute) {
			if groupIdentEqual(cached, group, groupIsDN) {
				e.log.Debug("group membership from request cache", map[string]any{"group": group})
				return true
			}
		}
	}

	sess, err := e.broker.Acquire(ctx)
	if err != nil {
		e.log.Warn("session acquisition failed during group check", map[string]any{"error": err.Error()})
		return false
	}
	defer e.broker.Release(sess)

	var attrs []string
	if e.cfg.Group.MembershipAttribute != "" {
		attrs = []string{e.cfg.Group.MembershipAttribute}
	}
	user, outcome := e.findUser(ctx, sess, req, attrs)
	if outcome != OutcomeOK {
		return false
	}

	if e.cfg.Group.MembershipFilter != "" {
		if e.groupObjMatch(ctx, sess, req, group, groupIsDN) {
			return true
		}
	}

	if e.cfg.Group.MembershipAttribute != "" && user.Entry != nil {
		if e.userObjMatch(ctx, sess, user.Entry, group, groupIsDN) {
			return true
		}
	}

	return false
}

// Comparator returns the membership predicate in the shape the host's
// policy-comparison mechanism registers.
func (e *Engine) Comparator() func(ctx context.Context, req *request.Request, group string) bool {
	return e.CheckGroupMembership
}

// groupObjMatch runs the configured dynamic membership filter against group
// objects. A non-empty result is a match.
func (e *Engine) groupObjMatch(ctx context.Context, sess directory.Session, req *request.Request, group string, groupIsDN bool) bool {
	membership, err := xlat.ExpandFilter(e.cfg.Group.MembershipFilter, req)
	if err != nil {
		e.log.Warn("unable to expand group membership filter", map[string]any{"error": err.Error()})
		return false
	}

	search := &directory.SearchRequest{
		Attributes: []string{noAttrsOID},
	}
	if groupIsDN {
		search.BaseDN = group
		search.Scope = directory.ScopeBaseObject
		search.Filter = combineFilters(e.cfg.Group.Filter, membership)
	} else {
		base, err := xlat.Expand(e.cfg.Group.BaseDN, req)
		if err != nil {
			e.log.Warn("unable to expand group base DN", map[string]any{"error": err.Error()})
			return false
		}
		search.BaseDN = base
		search.Scope = e.cfg.groupScope
		nameFilter := fmt.Sprintf("(%s=%s)", e.cfg.Group.NameAttribute, ldap.EscapeFilter(group))
		search.Filter = combineFilters(e.cfg.Group.Filter, nameFilter, membership)
	}

	res, err := sess.Search(ctx, search)
	if err != nil {
		e.log.Warn("group object search failed", map[string]any{
			"filter": search.Filter,
			"error":  err.Error(),
		})
		return false
	}
	return len(res.Entries) > 0
}

// userObjMatch tests the user entry's membership attribute values against the
// group identifier, resolving across DN and name syntax as needed.
func (e *Engine) userObjMatch(ctx context.Context, sess directory.Session, entry *ldap.Entry, group string, groupIsDN bool) bool {
	values := entry.GetAttributeValues(e.cfg.Group.MembershipAttribute)
	if len(values) == 0 {
		return false
	}

	// Lazily resolved name of a DN-form group identifier, for comparison
	// against plain-name membership values.
	groupName := ""

	for _, value := range values {
		valueIsDN := directory.IsDN(value)

		switch {
		case valueIsDN == groupIsDN:
			if groupIdentEqual(value, group, groupIsDN) {
				return true
			}

		case valueIsDN && !groupIsDN:
			name, err := e.groupDNToName(ctx, sess, value)
			if err != nil {
				e.log.Warn("unable to resolve group DN to name", map[string]any{
					"dn":    value,
					"error": err.Error(),
				})
				continue
			}
			if strings.EqualFold(name, group) {
				return true
			}

		default: // plain-name value, DN-form group identifier
			if groupName == "" {
				name, err := e.groupDNToName(ctx, sess, group)
				if err != nil {
					e.log.Warn("unable to resolve group DN to name", map[string]any{
						"dn":    group,
						"error": err.Error(),
					})
					return false
				}
				groupName = name
			}
			if strings.EqualFold(value, groupName) {
				return true
			}
		}
	}
	return false
}

// cacheableUserObj records membership data found on the user object as
// request check items for later cache-strategy lookups.
func (e *Engine) cacheableUserObj(ctx context.Context, sess directory.Session, req *request.Request, entry *ldap.Entry) Outcome {
	values := entry.GetAttributeValues(e.cfg.Group.MembershipAttribute)
	if len(values) == 0 {
		e.log.Debug("no cacheable membership values on user object", nil)
		return OutcomeOK
	}

	cacheAttr := e.cfg.Group.CacheAttribute
	for _, value := range values {
		if directory.IsDN(value) {
			if e.cfg.Group.CacheableDN {
				req.AddCheck(cacheAttr, value, request.OpAdd)
			}
			if e.cfg.Group.CacheableName {
				name, err := e.groupDNToName(ctx, sess, value)
				if err != nil {
					e.log.Error("unable to resolve cached group DN to name", map[string]any{
						"dn":    value,
						"error": err.Error(),
					})
					return OutcomeFail
				}
				req.AddCheck(cacheAttr, name, request.OpAdd)
			}
			continue
		}

		if e.cfg.Group.CacheableName {
			req.AddCheck(cacheAttr, value, request.OpAdd)
		}
		if e.cfg.Group.CacheableDN {
			dn, err := e.groupNameToDN(ctx, sess, req, value)
			if err != nil {
				e.log.Error("unable to resolve cached group name to DN", map[string]any{
					"name":  value,
					"error": err.Error(),
				})
				return OutcomeFail
			}
			req.AddCheck(cacheAttr, dn, request.OpAdd)
		}
	}
	return OutcomeOK
}

// cacheableGroupObj records group objects matching the membership filter as
// request check items. Requires the membership filter; without one there is
// no way to enumerate the user's groups from the group side.
func (e *Engine) cacheableGroupObj(ctx context.Context, sess directory.Session, req *request.Request) Outcome {
	if e.cfg.Group.MembershipFilter == "" {
		e.log.Debug("skipping group object caching, no membership filter configured", nil)
		return OutcomeOK
	}

	membership, err := xlat.ExpandFilter(e.cfg.Group.MembershipFilter, req)
	if err != nil {
		e.log.Error("unable to expand group membership filter", map[string]any{"error": err.Error()})
		return OutcomeFail
	}
	base, err := xlat.Expand(e.cfg.Group.BaseDN, req)
	if err != nil {
		e.log.Error("unable to expand group base DN", map[string]any{"error": err.Error()})
		return OutcomeFail
	}

	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     base,
		Scope:      e.cfg.groupScope,
		Filter:     combineFilters(e.cfg.Group.Filter, membership),
		Attributes: []string{e.cfg.Group.NameAttribute},
	})
	if err != nil {
		e.log.Error("group object search failed", map[string]any{"error": err.Error()})
		return OutcomeFail
	}

	cacheAttr := e.cfg.Group.CacheAttribute
	for _, entry := range res.Entries {
		if e.cfg.Group.CacheableDN {
			req.AddCheck(cacheAttr, entry.DN, request.OpAdd)
		}
		if e.cfg.Group.CacheableName {
			name := entry.GetAttributeValue(e.cfg.Group.NameAttribute)
			if name == "" {
				e.log.Warn("group object has no name attribute value", map[string]any{"dn": entry.DN})
				continue
			}
			req.AddCheck(cacheAttr, name, request.OpAdd)
		}
	}
	return OutcomeOK
}

// groupDNToName fetches the configured name attribute of a group object.
func (e *Engine) groupDNToName(ctx context.Context, sess directory.Session, dn string) (string, error) {
	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     dn,
		Scope:      directory.ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{e.cfg.Group.NameAttribute},
	})
	if err != nil {
		return "", err
	}
	if len(res.Entries) == 0 {
		return "", fmt.Errorf("group object %q not found", dn)
	}
	name := res.Entries[0].GetAttributeValue(e.cfg.Group.NameAttribute)
	if name == "" {
		return "", fmt.Errorf("group object %q has no %q value", dn, e.cfg.Group.NameAttribute)
	}
	return name, nil
}

// groupNameToDN locates the group object with the given name.
func (e *Engine) groupNameToDN(ctx context.Context, sess directory.Session, req *request.Request, name string) (string, error) {
	base, err := xlat.Expand(e.cfg.Group.BaseDN, req)
	if err != nil {
		return "", err
	}
	nameFilter := fmt.Sprintf("(%s=%s)", e.cfg.Group.NameAttribute, ldap.EscapeFilter(name))
	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     base,
		Scope:      e.cfg.groupScope,
		Filter:     combineFilters(e.cfg.Group.Filter, nameFilter),
		Attributes: []string{noAttrsOID},
	})
	if err != nil {
		return "", err
	}
	switch len(res.Entries) {
	case 0:
		return "", fmt.Errorf("no group object named %q", name)
	case 1:
		return res.Entries[0].DN, nil
	default:
		return "", fmt.Errorf("ambiguous group name %q: %d matches", name, len(res.Entries))
	}
}

func groupIdentEqual(a, b string, asDN bool) bool {
	if asDN {
		return directory.DNEqual(a, b)
	}
	return strings.EqualFold(a, b)
}

// combineFilters AND-combines the non-empty filter fragments.
func combineFilters(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return kept[0]
	default:
		return "(&" + strings.Join(kept, "") + ")"
	}
}
