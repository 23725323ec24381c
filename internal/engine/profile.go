package engine

import (
	"context"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// applyProfiles merges profile objects into the request's attribute set.
// Two independent sources may both fire: the single profile named by the
// request's profile hint (falling back to the configured default), and every
// value of the user object's profile attribute, in directory return order.
// Any failure aborts with OutcomeFail; a partially applied profile set is
// not an acceptable end state.
func (e *Engine) applyProfiles(ctx context.Context, sess directory.Session, req *request.Request, user *resolvedUser, em *expandedMap) Outcome {
	profile := ""
	if hint := req.Check.First(request.AttrUserProfile); hint != nil {
		profile = hint.Value
	} else {
		profile = e.cfg.Profiles.Default
	}
	if profile != "" {
		if outcome := e.applyProfile(ctx, sess, req, profile, em); outcome != OutcomeOK {
			return outcome
		}
	}

	if e.cfg.Profiles.Attribute != "" && user.Entry != nil {
		for _, dn := range user.Entry.GetAttributeValues(e.cfg.Profiles.Attribute) {
			if outcome := e.applyProfile(ctx, sess, req, dn, em); outcome != OutcomeOK {
				return outcome
			}
		}
	}
	return OutcomeOK
}

// applyProfile fetches one profile object and maps its attributes into the
// request exactly the way user attributes are mapped.
func (e *Engine) applyProfile(ctx context.Context, sess directory.Session, req *request.Request, dn string, em *expandedMap) Outcome {
	filter, err := xlat.ExpandFilter(e.cfg.Profiles.Filter, req)
	if err != nil {
		e.log.Error("unable to expand profile filter", map[string]any{"error": err.Error()})
		return OutcomeFail
	}

	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     dn,
		Scope:      directory.ScopeBaseObject,
		Filter:     filter,
		Attributes: em.attrs,
	})
	if err != nil {
		e.log.Error("profile object search failed", map[string]any{
			"dn":    dn,
			"error": err.Error(),
		})
		return OutcomeFail
	}
	if len(res.Entries) == 0 {
		e.log.Error("profile object not found", map[string]any{"dn": dn})
		return OutcomeFail
	}

	e.mapAttributes(req, res.Entries[0], em)
	return OutcomeOK
}
