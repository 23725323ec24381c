package engine

import (
	"context"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// modifyUser translates a write-back section's update block into an ordered
// modify batch and applies it to the user's freshly resolved DN. The user is
// re-resolved even if an earlier stage of the same request already resolved
// it, guarding against a stale DN between stages.
func (e *Engine) modifyUser(ctx context.Context, req *request.Request, section *AcctSection, stage string) Outcome {
	if section == nil {
		return OutcomeNoOp
	}
	if !req.HasUsername() {
		e.log.Debug("username required for directory write-back", map[string]any{"stage": stage})
		return OutcomeInvalid
	}

	path, err := xlat.Expand(section.Reference, req)
	if err != nil {
		e.log.Error("unable to expand section reference", map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		return OutcomeFail
	}
	target := section.Resolve(path)
	if target == nil {
		e.log.Error("section reference does not resolve", map[string]any{
			"stage":     stage,
			"reference": path,
		})
		return OutcomeInvalid
	}
	if len(target.Update) == 0 {
		e.log.Error("referenced section must contain an 'update' block", map[string]any{
			"stage":     stage,
			"reference": path,
		})
		return OutcomeInvalid
	}

	ops, outcome := e.buildModifyOps(req, target.Update)
	if outcome != OutcomeOK {
		return outcome
	}
	if len(ops) == 0 {
		e.log.Debug("no directory modifications to perform", map[string]any{"stage": stage})
		return OutcomeNoOp
	}

	sess, err := e.broker.Acquire(ctx)
	if err != nil {
		e.log.Warn("session acquisition failed", map[string]any{"stage": stage, "error": err.Error()})
		return OutcomeFail
	}
	defer e.broker.Release(sess)

	// Fresh resolution: the non-nil attribute list bypasses the cached DN.
	user, outcome := e.findUser(ctx, sess, req, []string{noAttrsOID})
	if outcome != OutcomeOK {
		return outcome
	}

	if err := sess.Modify(ctx, &directory.ModifyRequest{DN: user.DN, Ops: ops}); err != nil {
		e.log.Error("directory modify failed", map[string]any{
			"stage": stage,
			"dn":    user.DN,
			"error": err.Error(),
		})
		return OutcomeFail
	}

	e.log.Debug("directory write-back applied", map[string]any{
		"stage": stage,
		"dn":    user.DN,
		"ops":   len(ops),
	})
	return OutcomeOK
}

// buildModifyOps turns update entries into modify operations in declaration
// order. Empty and expansion-failed values skip their entry only; an
// unsupported operator aborts the whole batch with nothing written.
func (e *Engine) buildModifyOps(req *request.Request, update []UpdateEntry) ([]directory.ModifyOp, Outcome) {
	ops := make([]directory.ModifyOp, 0, len(update))
	for _, u := range update {
		var verb directory.ModifyVerb
		var values []string

		switch u.Op {
		case "add":
			verb = directory.ModifyAdd
		case "set":
			verb = directory.ModifyReplace
		case "sub":
			verb = directory.ModifyDelete
		case "delete":
			// Value-absent form: remove every value of the attribute.
			verb = directory.ModifyDelete
		case "increment":
			verb = directory.ModifyIncrement
		default:
			e.log.Error("operator not supported for directory modifications", map[string]any{
				"attribute": u.Attr,
				"operator":  u.Op,
			})
			return nil, OutcomeInvalid
		}

		if u.Op != "delete" {
			value := u.Value
			if value == "" {
				e.log.Debug("skipping update entry with empty value", map[string]any{"attribute": u.Attr})
				continue
			}
			if xlat.ContainsRef(value) {
				expanded, err := xlat.Expand(value, req)
				if err != nil {
					e.log.Debug("skipping update entry after expansion failure", map[string]any{
						"attribute": u.Attr,
						"error":     err.Error(),
					})
					continue
				}
				if expanded == "" {
					e.log.Debug("skipping update entry with empty expansion", map[string]any{"attribute": u.Attr})
					continue
				}
				value = expanded
			}
			values = []string{value}
		}

		if len(ops) >= MaxAttrMapEntries {
			e.log.Error("update block produced too many modifications", map[string]any{"max": MaxAttrMapEntries})
			return nil, OutcomeInvalid
		}
		ops = append(ops, directory.ModifyOp{Verb: verb, Attr: u.Attr, Values: values})
	}
	return ops, OutcomeOK
}
