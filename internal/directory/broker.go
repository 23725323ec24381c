package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MaxPoolSize is the maximum allowed sessions in a broker pool. Keeps a
// misconfigured pool from exhausting directory-side connection limits.
const MaxPoolSize = 100

// session is a pooled directory connection. It is handed to exactly one
// logical operation at a time; all calls on it are strictly sequential.
type session struct {
	conn     *ldap.Conn
	cfg      *Config
	lastUsed time.Time
	healthy  bool
	rebound  bool
}

// Search executes a search on the session.
func (s *session) Search(_ context.Context, req *SearchRequest) (*SearchResult, error) {
	timeLimit := req.TimeLimit
	if timeLimit == 0 {
		timeLimit = s.cfg.ResTimeout
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(timeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	result, err := s.conn.Search(ldapReq)
	if err != nil {
		// No such object under the base DN is an empty result, not a failure.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return &SearchResult{}, nil
		}
		s.healthy = Category(err) != ErrorCategoryConnection
		return nil, WrapError("search", err)
	}

	return &SearchResult{Entries: result.Entries}, nil
}

// Bind authenticates the session as the given DN.
func (s *session) Bind(_ context.Context, dn, password string) error {
	if err := s.conn.Bind(dn, password); err != nil {
		if Category(err) == ErrorCategoryConnection {
			s.healthy = false
		}
		return err
	}
	return nil
}

// Modify applies a batched modify against one DN, preserving operation order.
func (s *session) Modify(_ context.Context, req *ModifyRequest) error {
	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for _, op := range req.Ops {
		switch op.Verb {
		case ModifyAdd:
			ldapReq.Add(op.Attr, op.Values)
		case ModifyReplace:
			ldapReq.Replace(op.Attr, op.Values)
		case ModifyDelete:
			ldapReq.Delete(op.Attr, op.Values)
		case ModifyIncrement:
			ldapReq.Increment(op.Attr, op.Values[0])
		}
	}

	if err := s.conn.Modify(ldapReq); err != nil {
		if Category(err) == ErrorCategoryConnection {
			s.healthy = false
		}
		return WrapError("modify", err)
	}
	return nil
}

// sessionBroker implements Broker with a bounded channel pool.
type sessionBroker struct {
	cfg      *Config
	log      *HCLogger
	sessions chan *session

	mu     sync.RWMutex
	closed bool

	active       int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewBroker creates a session broker for the configured directory server.
func NewBroker(cfg *Config, log *HCLogger) (Broker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = NewLogger(nil, "directory")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid broker configuration: %w", err)
	}

	log.Debug("creating session broker", map[string]any{
		"server":      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"auth_method": cfg.AuthMethod().String(),
		"pool_size":   cfg.PoolSize,
	})

	return &sessionBroker{
		cfg:       cfg,
		log:       log,
		sessions:  make(chan *session, cfg.PoolSize),
		startTime: time.Now(),
	}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Host == "" {
		return errors.New("server host must be set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Port)
	}
	if cfg.PoolSize <= 0 {
		return errors.New("pool size must be positive")
	}
	if cfg.PoolSize > MaxPoolSize {
		return fmt.Errorf("pool size too high (max %d)", MaxPoolSize)
	}
	if cfg.NetTimeout <= 0 {
		return errors.New("network timeout must be positive")
	}
	if cfg.UseTLS && cfg.StartTLS {
		return errors.New("use_tls and start_tls are mutually exclusive")
	}
	if cfg.BackoffFactor <= 1.0 {
		return errors.New("backoff factor must be greater than 1.0")
	}
	return nil
}

// Acquire leases a session bound as the service identity. Sessions that were
// rebound as a user identity are re-bound before reuse; ones that cannot be
// are discarded.
func (b *sessionBroker) Acquire(ctx context.Context) (Session, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, errors.New("session broker is closed")
	}
	b.mu.RUnlock()

	for {
		select {
		case s, ok := <-b.sessions:
			if !ok {
				// Close drained and closed the channel under us.
				return nil, errors.New("session broker is closed")
			}
			if !b.usable(s) {
				b.discard(s)
				continue
			}
			if s.rebound {
				if err := b.bindServiceIdentity(s); err != nil {
					b.log.Debug("service rebind failed, discarding session", map[string]any{
						"error": err.Error(),
					})
					b.discard(s)
					continue
				}
				s.rebound = false
			}
			s.lastUsed = time.Now()
			atomic.AddInt64(&b.active, 1)
			return s, nil
		default:
			return b.create(ctx)
		}
	}
}

// Release returns a leased session to the pool. Rebound sessions are retained
// but will be re-bound as the service identity before the next lease.
func (b *sessionBroker) Release(s Session) {
	sess, ok := s.(*session)
	if !ok || sess == nil {
		return
	}

	atomic.AddInt64(&b.active, -1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || !sess.healthy || time.Since(sess.lastUsed) > b.cfg.MaxIdleTime {
		b.discard(sess)
		return
	}

	sess.lastUsed = time.Now()
	select {
	case b.sessions <- sess:
	default:
		// Pool is full.
		b.discard(sess)
	}
}

// MarkRebound records that the session no longer carries the service
// identity.
func (b *sessionBroker) MarkRebound(s Session) {
	if sess, ok := s.(*session); ok && sess != nil {
		sess.rebound = true
	}
}

// Close tears down all pooled sessions.
func (b *sessionBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	close(b.sessions)
	for s := range b.sessions {
		b.discard(s)
	}
	return nil
}

// Stats reports broker counters.
func (b *sessionBroker) Stats() Stats {
	return Stats{
		Idle:    len(b.sessions),
		Active:  atomic.LoadInt64(&b.active),
		Created: atomic.LoadInt64(&b.totalCreated),
		Errors:  atomic.LoadInt64(&b.totalErrors),
		Uptime:  time.Since(b.startTime),
	}
}

func (b *sessionBroker) usable(s *session) bool {
	return s != nil && s.conn != nil && s.healthy &&
		time.Since(s.lastUsed) <= b.cfg.MaxIdleTime
}

func (b *sessionBroker) discard(s *session) {
	if s != nil && s.conn != nil {
		s.conn.Close()
		s.healthy = false
	}
}

// create establishes a new session with retry, binding it as the service
// identity. Connection establishment is the only retried operation anywhere
// in the module.
func (b *sessionBroker) create(ctx context.Context) (Session, error) {
	var lastErr error
	backoff := b.cfg.InitialBackoff

	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		s, err := b.dial()
		if err == nil {
			atomic.AddInt64(&b.totalCreated, 1)
			atomic.AddInt64(&b.active, 1)
			return s, nil
		}
		lastErr = err
		atomic.AddInt64(&b.totalErrors, 1)

		if attempt == b.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*b.cfg.BackoffFactor), b.cfg.MaxBackoff)
		}
	}

	b.log.Error("failed to establish directory session", map[string]any{
		"server":   fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port),
		"attempts": b.cfg.MaxRetries + 1,
		"error":    lastErr.Error(),
	})
	return nil, WrapError("connect", lastErr)
}

func (b *sessionBroker) dial() (*session, error) {
	scheme := "ldap"
	if b.cfg.UseTLS {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, b.cfg.Host, b.cfg.Port)

	var conn *ldap.Conn
	var err error
	if b.cfg.UseTLS {
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(b.cfg.TLSConfig))
	} else {
		conn, err = ldap.DialURL(url)
		if err == nil && b.cfg.StartTLS {
			err = conn.StartTLS(b.cfg.TLSConfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(b.cfg.NetTimeout)

	s := &session{
		conn:     conn,
		cfg:      b.cfg,
		lastUsed: time.Now(),
		healthy:  true,
	}

	if err := b.bindServiceIdentity(s); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind service identity on %s: %w", url, err)
	}

	return s, nil
}

func (b *sessionBroker) bindServiceIdentity(s *session) error {
	switch b.cfg.AuthMethod() {
	case AuthMethodKerberos:
		return gssapiBind(s.conn, b.cfg)
	case AuthMethodSimpleBind:
		return s.conn.Bind(b.cfg.BindDN, b.cfg.Password)
	default:
		return s.conn.UnauthenticatedBind("")
	}
}
