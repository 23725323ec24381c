package directory

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Config holds the connection configuration for the session broker. It is
// write-once at startup and shared read-only by all requests.
type Config struct {
	// Server settings
	Host   string // Directory server hostname
	Port   int    // Directory server port
	BaseDN string // Default base DN for searches

	// Service identity
	BindDN   string // DN the broker binds sessions as
	Password string // Password for the service identity simple bind

	// Kerberos settings for GSSAPI service binds
	KerberosRealm  string // Kerberos realm
	KerberosKeytab string // Path to keytab file
	KerberosCCache string // Path to credential cache
	KerberosConfig string // Path to krb5.conf
	KerberosSPN    string // Explicit service principal override

	// TLS settings
	UseTLS    bool        // Connect with LDAPS
	StartTLS  bool        // Upgrade a plain connection with StartTLS
	TLSConfig *tls.Config // TLS configuration for either mode

	// Pool settings
	PoolSize    int           // Maximum idle sessions retained
	MaxIdleTime time.Duration // Idle time before a session is discarded

	// Timeouts
	NetTimeout time.Duration // Network activity timeout per directory call
	ResTimeout time.Duration // Server-side search time limit

	// Retry settings for initial connection establishment only
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns a configuration with the broker defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           389,
		PoolSize:       5,
		MaxIdleTime:    5 * time.Minute,
		NetTimeout:     10 * time.Second,
		ResTimeout:     20 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// AuthMethod defines how the broker authenticates the service identity.
type AuthMethod int

const (
	AuthMethodAnonymous  AuthMethod = iota // No service identity configured
	AuthMethodSimpleBind                   // DN/password bind
	AuthMethodKerberos                     // GSSAPI/Kerberos bind
)

// String returns the string representation of the authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodAnonymous:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// AuthMethod determines the service authentication method from the config.
func (c *Config) AuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}
	if c.BindDN != "" {
		return AuthMethodSimpleBind
	}
	return AuthMethodAnonymous
}

// Scope defines a search scope.
type Scope int

const (
	ScopeBaseObject Scope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns the configuration spelling of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// ParseScope converts a configuration scope string to a Scope.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case "base":
		return ScopeBaseObject, true
	case "one":
		return ScopeSingleLevel, true
	case "sub":
		return ScopeWholeSubtree, true
	default:
		return 0, false
	}
}

// SearchRequest encapsulates directory search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains the entries a search returned.
type SearchResult struct {
	Entries []*ldap.Entry
}

// ModifyVerb is a directory-modify operation type.
type ModifyVerb int

const (
	ModifyAdd ModifyVerb = iota
	ModifyReplace
	ModifyDelete
	ModifyIncrement
)

// String returns the wire-operation name of the verb.
func (v ModifyVerb) String() string {
	switch v {
	case ModifyAdd:
		return "add"
	case ModifyReplace:
		return "replace"
	case ModifyDelete:
		return "delete"
	case ModifyIncrement:
		return "increment"
	default:
		return "unknown"
	}
}

// ModifyOp is a single attribute modification. An empty Values slice on a
// delete removes every value of the attribute.
type ModifyOp struct {
	Verb   ModifyVerb
	Attr   string
	Values []string
}

// ModifyRequest is an ordered batch of modifications against one DN.
type ModifyRequest struct {
	DN  string
	Ops []ModifyOp
}

// Session is a leased directory connection. A session is owned by exactly one
// in-flight operation at a time and must be released back to its broker on
// every exit path.
type Session interface {
	// Search executes a search and returns all matching entries.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// Bind authenticates the session as the given DN. After a user bind the
	// caller must mark the session rebound via the broker.
	Bind(ctx context.Context, dn, password string) error

	// Modify applies a batched modify against one DN.
	Modify(ctx context.Context, req *ModifyRequest) error
}

// Broker supplies bound directory sessions on demand.
type Broker interface {
	// Acquire leases a session bound as the service identity.
	Acquire(ctx context.Context) (Session, error)

	// Release returns a leased session. Safe to call with a nil session so
	// callers can release unconditionally in deferred cleanup.
	Release(s Session)

	// MarkRebound records that the session was bound as another identity and
	// must not be reused as the service identity without a rebind.
	MarkRebound(s Session)

	// Close tears down all pooled sessions.
	Close() error

	// Stats reports broker counters.
	Stats() Stats
}

// Stats provides counters about the session broker.
type Stats struct {
	Idle    int           // Sessions currently pooled
	Active  int64         // Sessions currently leased
	Created int64         // Total sessions established
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Broker uptime
}
