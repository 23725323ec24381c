package engine

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
)

// Engine is the decision engine. It holds only write-once configuration and
// the session broker, so one instance serves any number of concurrent
// requests without locking.
type Engine struct {
	cfg    *Config
	broker directory.Broker
	log    directory.Logger
}

// New creates an engine over a validated configuration and a session broker.
func New(cfg *Config, broker directory.Broker, logger hclog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		broker: broker,
		log:    directory.NewLogger(logger, "engine"),
	}
}

// Authenticate verifies the request's credential by binding as the resolved
// user. The password must be non-empty before any session is acquired: an
// empty credential would degrade the bind to an unauthenticated one, which
// many directories report as success.
func (e *Engine) Authenticate(ctx context.Context, req *request.Request) Outcome {
	if !req.HasUsername() {
		e.log.Warn("username is required for authentication", nil)
		return OutcomeInvalid
	}
	if req.Password() == "" {
		e.log.Warn("refusing to authenticate with an empty password", nil)
		return OutcomeInvalid
	}

	sess, err := e.broker.Acquire(ctx)
	if err != nil {
		e.log.Warn("session acquisition failed", map[string]any{"error": err.Error()})
		return OutcomeFail
	}
	defer e.broker.Release(sess)

	user, outcome := e.findUser(ctx, sess, req, nil)
	if outcome != OutcomeOK {
		return outcome
	}

	switch e.userBind(ctx, sess, user.DN, req.Password()) {
	case bindSuccess:
		e.log.Debug("bind as user successful", map[string]any{"dn": user.DN})
		return OutcomeOK
	case bindNotPermitted:
		return OutcomeUserLock
	case bindReject:
		return OutcomeReject
	case bindBadDN:
		return OutcomeInvalid
	case bindNoResult:
		return OutcomeNotFound
	default:
		return OutcomeFail
	}
}

// Authorize resolves the user, applies the access gate, populates the group
// membership cache, merges profiles and maps the user object's attributes
// into the request. Requests without a username are not for this engine and
// yield OutcomeNoOp; a present but empty username is malformed.
func (e *Engine) Authorize(ctx context.Context, req *request.Request) Outcome {
	if !req.HasUsername() {
		e.log.Debug("request has no username, ignoring", nil)
		return OutcomeNoOp
	}
	if req.Username() == "" {
		e.log.Warn("zero-length username not permitted", nil)
		return OutcomeInvalid
	}

	em, err := e.expandMap(req)
	if err != nil {
		e.log.Error("unable to expand attribute map", map[string]any{"error": err.Error()})
		return OutcomeFail
	}

	attrs := em.attrs
	if e.cfg.User.AccessAttribute != "" {
		attrs = append(attrs, e.cfg.User.AccessAttribute)
	}
	if e.cfg.Group.MembershipAttribute != "" && (e.cfg.Group.CacheableName || e.cfg.Group.CacheableDN) {
		attrs = append(attrs, e.cfg.Group.MembershipAttribute)
	}
	if e.cfg.Profiles.Attribute != "" {
		attrs = append(attrs, e.cfg.Profiles.Attribute)
	}

	sess, err := e.broker.Acquire(ctx)
	if err != nil {
		e.log.Warn("session acquisition failed", map[string]any{"error": err.Error()})
		return OutcomeFail
	}
	defer e.broker.Release(sess)

	user, outcome := e.findUser(ctx, sess, req, attrs)
	if outcome != OutcomeOK {
		return outcome
	}

	if e.cfg.User.AccessAttribute != "" {
		if outcome := e.checkAccess(user); outcome != OutcomeOK {
			return outcome
		}
	}

	if e.cfg.Group.CacheableName || e.cfg.Group.CacheableDN {
		if e.cfg.Group.MembershipAttribute != "" {
			if outcome := e.cacheableUserObj(ctx, sess, req, user.Entry); outcome != OutcomeOK {
				return outcome
			}
		}
		if outcome := e.cacheableGroupObj(ctx, sess, req); outcome != OutcomeOK {
			return outcome
		}
	}

	if outcome := e.applyProfiles(ctx, sess, req, user, em); outcome != OutcomeOK {
		return outcome
	}

	e.mapAttributes(req, user.Entry, em)
	return OutcomeOK
}

// checkAccess gates on the configured access attribute. Positive polarity
// requires the attribute to be present and not FALSE; negative polarity
// treats its presence as an administrative lock.
func (e *Engine) checkAccess(user *resolvedUser) Outcome {
	values := user.Entry.GetAttributeValues(e.cfg.User.AccessAttribute)

	if e.cfg.User.AccessPositive {
		if len(values) == 0 {
			e.log.Debug("user object lacks access attribute, access denied", map[string]any{"dn": user.DN})
			return OutcomeUserLock
		}
		if strings.EqualFold(values[0], "false") {
			e.log.Debug("access attribute is FALSE, access denied", map[string]any{"dn": user.DN})
			return OutcomeUserLock
		}
		return OutcomeOK
	}

	if len(values) > 0 {
		e.log.Debug("user object has access attribute, access denied", map[string]any{"dn": user.DN})
		return OutcomeUserLock
	}
	return OutcomeOK
}

// Accounting applies the accounting write-back section, if configured.
func (e *Engine) Accounting(ctx context.Context, req *request.Request) Outcome {
	return e.modifyUser(ctx, req, e.cfg.Accounting, "accounting")
}

// PostAuth applies the post-authentication write-back section, if configured.
func (e *Engine) PostAuth(ctx context.Context, req *request.Request) Outcome {
	return e.modifyUser(ctx, req, e.cfg.PostAuth, "post-auth")
}
