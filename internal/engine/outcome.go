package engine

// Outcome is the result of one engine entry point invocation.
type Outcome int

const (
	// OutcomeOK means the operation succeeded and produced its effect.
	OutcomeOK Outcome = iota
	// OutcomeNoOp means the request was not applicable to this engine.
	OutcomeNoOp
	// OutcomeNotFound means the user (or referenced object) does not exist.
	OutcomeNotFound
	// OutcomeInvalid means the request was malformed.
	OutcomeInvalid
	// OutcomeReject means authentication was actively refused.
	OutcomeReject
	// OutcomeUserLock means the account exists but is administratively
	// disabled.
	OutcomeUserLock
	// OutcomeFail means an operational error prevented a decision.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoOp:
		return "noop"
	case OutcomeNotFound:
		return "notfound"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeReject:
		return "reject"
	case OutcomeUserLock:
		return "userlock"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}
