package engine

import (
	"context"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-authd/internal/directory"
)

// bindStatus classifies the directory's response to a user credential bind.
type bindStatus int

const (
	bindSuccess bindStatus = iota
	// bindNotPermitted: the account is administratively locked or expired,
	// as opposed to a wrong password.
	bindNotPermitted
	// bindReject: invalid credentials.
	bindReject
	// bindBadDN: the resolved DN is malformed or gone, i.e. the resolution
	// was stale rather than the password bad.
	bindBadDN
	// bindNoResult: the directory did not answer in time.
	bindNoResult
	bindFail
)

func (s bindStatus) String() string {
	switch s {
	case bindSuccess:
		return "success"
	case bindNotPermitted:
		return "not permitted"
	case bindReject:
		return "rejected"
	case bindBadDN:
		return "bad dn"
	case bindNoResult:
		return "no result"
	default:
		return "failed"
	}
}

func classifyBind(err error) bindStatus {
	if err == nil {
		return bindSuccess
	}
	if directory.IsTimeout(err) {
		return bindNoResult
	}
	switch directory.ResultCode(err) {
	case ldap.LDAPResultInvalidCredentials:
		return bindReject
	case ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultConstraintViolation:
		return bindNotPermitted
	case ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNoSuchObject:
		return bindBadDN
	default:
		return bindFail
	}
}

// userBind authenticates the session as dn with the supplied credential and
// marks the session rebound so the broker never hands it back out as the
// service identity without a rebind. Callers must reject empty credentials
// before getting here: an empty password would turn the bind into an
// unauthenticated one, which some directories treat as success.
func (e *Engine) userBind(ctx context.Context, sess directory.Session, dn, password string) bindStatus {
	err := sess.Bind(ctx, dn, password)
	e.broker.MarkRebound(sess)

	status := classifyBind(err)
	if status != bindSuccess {
		e.log.Debug("user bind unsuccessful", map[string]any{
			"dn":     dn,
			"status": status.String(),
			"error":  errString(err),
		})
	}
	return status
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
