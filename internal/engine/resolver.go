package engine

import (
	"context"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// resolvedUser is a user located in the directory. Entry is only populated
// when the caller asked for attributes.
type resolvedUser struct {
	DN    string
	Entry *ldap.Entry
}

// findUser maps the request's username to exactly one directory object.
// Zero matches yield OutcomeNotFound; more than one match is a directory
// inconsistency and yields OutcomeFail, never a silent first-hit pick.
//
// The resolved DN is cached on the request so later template expansions and
// repeat resolutions within the same request can use it. With a nil attrs
// slice a cached DN short-circuits the search entirely.
func (e *Engine) findUser(ctx context.Context, sess directory.Session, req *request.Request, attrs []string) (*resolvedUser, Outcome) {
	// Only the check list holds the engine-written DN cache; a packet
	// attribute of the same name must not satisfy the short-circuit.
	if attrs == nil {
		if p := req.Check.First(AttrUserDN); p != nil && p.Value != "" {
			return &resolvedUser{DN: p.Value}, OutcomeOK
		}
	}

	filter, err := xlat.ExpandFilter(e.cfg.User.Filter, req)
	if err != nil {
		e.log.Error("unable to expand user filter", map[string]any{"error": err.Error()})
		return nil, OutcomeInvalid
	}

	base, err := xlat.Expand(e.cfg.User.BaseDN, req)
	if err != nil {
		e.log.Error("unable to expand user base DN", map[string]any{"error": err.Error()})
		return nil, OutcomeInvalid
	}

	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     base,
		Scope:      e.cfg.userScope,
		Filter:     filter,
		Attributes: attrs,
	})
	if err != nil {
		e.log.Warn("user object search failed", map[string]any{
			"filter": filter,
			"basedn": base,
			"error":  err.Error(),
		})
		return nil, OutcomeFail
	}

	switch len(res.Entries) {
	case 0:
		e.log.Debug("user object not found", map[string]any{"filter": filter, "basedn": base})
		return nil, OutcomeNotFound
	case 1:
	default:
		e.log.Error("ambiguous user resolution, refusing to pick one", map[string]any{
			"filter":  filter,
			"matches": len(res.Entries),
		})
		return nil, OutcomeFail
	}

	entry := res.Entries[0]
	req.AddCheck(AttrUserDN, entry.DN, request.OpSet)
	e.log.Debug("resolved user object", map[string]any{"dn": entry.DN})

	return &resolvedUser{DN: entry.DN, Entry: entry}, OutcomeOK
}
