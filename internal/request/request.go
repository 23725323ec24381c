// Package request implements the generic attribute-value-pair request context
// the decision engine operates on. The host's packet store is mapped onto a
// Request before the engine is invoked; the engine reads caller-supplied pairs
// and appends check and reply items to it.
package request

import (
	"github.com/google/uuid"
)

// Well-known pseudo attribute names resolvable from every request.
const (
	AttrUserName     = "User-Name"
	AttrUserPassword = "User-Password"
	AttrUserProfile  = "User-Profile"
)

// Op controls how a pair is merged into a list.
type Op int

const (
	// OpAdd appends the pair, keeping existing pairs with the same name.
	OpAdd Op = iota
	// OpSet replaces the first pair with the same name, or appends if absent.
	OpSet
)

// Pair is a single internal attribute-value pair.
type Pair struct {
	Name  string
	Value string
	Op    Op
}

// Pairs is an ordered list of attribute-value pairs.
type Pairs []Pair

// Add merges a pair into the list honoring its operator.
func (ps *Pairs) Add(p Pair) {
	if p.Op == OpSet {
		for i := range *ps {
			if (*ps)[i].Name == p.Name {
				(*ps)[i].Value = p.Value
				return
			}
		}
	}
	*ps = append(*ps, p)
}

// First returns the first pair with the given name, or nil.
func (ps Pairs) First(name string) *Pair {
	for i := range ps {
		if ps[i].Name == name {
			return &ps[i]
		}
	}
	return nil
}

// Values returns all values recorded under the given name, in order.
func (ps Pairs) Values(name string) []string {
	var out []string
	for i := range ps {
		if ps[i].Name == name {
			out = append(out, ps[i].Value)
		}
	}
	return out
}

// Request is the per-request context shared by all engine stages.
//
// Check holds check items (the host's control list): caller-supplied hints
// such as User-Profile, and the request-scoped group membership cache. Reply
// holds reply items destined for the response. Attrs holds the attributes of
// the incoming packet. None of it outlives the request.
type Request struct {
	ID          string
	hasUsername bool
	username    string
	password    string

	Attrs Pairs
	Check Pairs
	Reply Pairs
}

// New creates a request context for the given claimed identity. The username
// attribute is considered present even when zero-length; use NewAnonymous for
// requests carrying no username attribute at all.
func New(username, password string) *Request {
	return &Request{
		ID:          uuid.New().String(),
		hasUsername: true,
		username:    username,
		password:    password,
	}
}

// NewAnonymous creates a request context with no username attribute.
func NewAnonymous() *Request {
	return &Request{ID: uuid.New().String()}
}

// Username returns the claimed username, which may be empty.
func (r *Request) Username() string { return r.username }

// HasUsername reports whether a username attribute was present at all,
// distinct from it being empty.
func (r *Request) HasUsername() bool { return r.hasUsername }

// Password returns the supplied cleartext credential, which may be empty.
func (r *Request) Password() string { return r.password }

// AddCheck appends an attribute-value pair to the check items.
func (r *Request) AddCheck(name, value string, op Op) {
	r.Check.Add(Pair{Name: name, Value: value, Op: op})
}

// AddReply appends an attribute-value pair to the reply items.
func (r *Request) AddReply(name, value string, op Op) {
	r.Reply.Add(Pair{Name: name, Value: value, Op: op})
}

// Get resolves an attribute name for template expansion: the username and
// password pseudo-attributes first, then check items, then packet attributes.
// Check items win over packet attributes so that engine-written state such as
// the resolved user DN cannot be shadowed by an attribute of the same name in
// the incoming packet.
func (r *Request) Get(name string) (string, bool) {
	switch name {
	case AttrUserName:
		return r.username, true
	case AttrUserPassword:
		return r.password, true
	}
	if p := r.Check.First(name); p != nil {
		return p.Value, true
	}
	if p := r.Attrs.First(name); p != nil {
		return p.Value, true
	}
	return "", false
}
