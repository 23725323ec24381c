// Package engine implements the decision engine of the directory-backed
// identity provider: user resolution, bind authentication, group membership
// checking, attribute and profile mapping, and directory write-back.
package engine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldap-authd/internal/directory"
)

// MaxAttrMapEntries bounds both the attribute map and the per-invocation
// modify batch.
const MaxAttrMapEntries = 128

// Internal attribute names the engine writes into the request context.
const (
	// AttrUserDN caches the resolved user DN for later template expansion
	// within the same request.
	AttrUserDN = "LDAP-UserDN"

	// DefaultGroupCacheAttr is where cacheable group membership data is
	// recorded as check items.
	DefaultGroupCacheAttr = "LDAP-Group"
)

// Config is the engine instance configuration. Immutable after Validate;
// shared read-only by all concurrent requests.
type Config struct {
	Server   string `yaml:"server" default:"localhost"`
	Port     int    `yaml:"port" default:"389"`
	Identity string `yaml:"identity"`
	Password string `yaml:"password"`
	BaseDN   string `yaml:"basedn"`

	User     UserConfig    `yaml:"user"`
	Group    GroupConfig   `yaml:"group"`
	Profiles ProfileConfig `yaml:"profiles"`
	Options  OptionsConfig `yaml:"options"`
	TLS      TLSConfig     `yaml:"tls"`

	// Map translates directory attributes on the resolved user object (and
	// profile objects) into internal attribute-value pairs.
	Map []MapEntry `yaml:"map"`

	Accounting *AcctSection `yaml:"accounting"`
	PostAuth   *AcctSection `yaml:"post_auth"`

	userScope  directory.Scope
	groupScope directory.Scope
}

// UserConfig controls how usernames are resolved to directory objects.
type UserConfig struct {
	Filter string `yaml:"filter" default:"(uid=%{User-Name})"`
	Scope  string `yaml:"scope" default:"sub"`
	BaseDN string `yaml:"basedn"`

	// AccessAttribute gates access on an attribute of the user object.
	// With positive polarity the attribute must be present (and not FALSE);
	// with negative polarity its presence disables the account.
	AccessAttribute string `yaml:"access_attribute"`
	AccessPositive  bool   `yaml:"access_positive" default:"true"`
}

// GroupConfig controls group membership resolution and caching.
type GroupConfig struct {
	Filter string `yaml:"filter"`
	Scope  string `yaml:"scope" default:"sub"`
	BaseDN string `yaml:"basedn"`

	NameAttribute       string `yaml:"name_attribute" default:"cn"`
	MembershipAttribute string `yaml:"membership_attribute"`
	MembershipFilter    string `yaml:"membership_filter"`

	CacheableName  bool   `yaml:"cacheable_name"`
	CacheableDN    bool   `yaml:"cacheable_dn"`
	CacheAttribute string `yaml:"cache_attribute" default:"LDAP-Group"`
}

// ProfileConfig controls profile object application.
type ProfileConfig struct {
	Attribute string `yaml:"profile_attribute"`
	Default   string `yaml:"default_profile"`
	Filter    string `yaml:"filter" default:"(objectclass=*)"`
}

// OptionsConfig holds connection and timeout tunables.
type OptionsConfig struct {
	NetTimeout   time.Duration `yaml:"net_timeout" default:"10s"`
	ResTimeout   time.Duration `yaml:"res_timeout" default:"20s"`
	SrvTimeLimit time.Duration `yaml:"srv_timelimit" default:"20s"`
	PoolSize     int           `yaml:"pool_size" default:"5"`
	IdleTimeout  time.Duration `yaml:"idle" default:"5m"`
}

// TLSConfig holds transport security settings.
type TLSConfig struct {
	StartTLS   bool   `yaml:"start_tls"`
	CACertFile string `yaml:"cacertfile"`
	CertFile   string `yaml:"certfile"`
	KeyFile    string `yaml:"keyfile"`

	// RequireCert follows the usual directory client vocabulary:
	// "demand" (default), "allow" or "never" disable verification.
	RequireCert string `yaml:"require_cert" default:"demand"`
}

// PairList selects the destination list of a mapped attribute.
type PairList string

const (
	ListCheck PairList = "check"
	ListReply PairList = "reply"
)

// MapEntry declares one attribute translation. Order is significant: entries
// are evaluated in declaration order on every mapped object.
type MapEntry struct {
	// Name is the destination internal attribute, possibly a template
	// expanded per request.
	Name string `yaml:"name"`
	// List is "check" or "reply".
	List PairList `yaml:"list" default:"reply"`
	// Op is "add" or "set" (replace on first write).
	Op string `yaml:"op" default:"add"`
	// Attr is the source directory attribute.
	Attr string `yaml:"attr"`
}

// UnmarshalYAML applies entry defaults before decoding.
func (m *MapEntry) UnmarshalYAML(node *yaml.Node) error {
	if err := defaults.Set(m); err != nil {
		return err
	}
	type raw MapEntry
	return node.Decode((*raw)(m))
}

// UpdateEntry is one line of a modify "update" block.
type UpdateEntry struct {
	Attr string `yaml:"attr"`
	// Op is one of add, set, sub, delete, increment. The equals operator is
	// unsupported: LDAP has no transactions to make it safe.
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// AcctSection is the configuration of one write-back stage (accounting or
// post-auth). Reference selects the subsection holding the update block and
// may be templated, allowing per-request redirection.
type AcctSection struct {
	Reference string                  `yaml:"reference" default:"."`
	Update    []UpdateEntry           `yaml:"update"`
	Sections  map[string]*AcctSection `yaml:"sections"`
}

// UnmarshalYAML applies section defaults before decoding.
func (s *AcctSection) UnmarshalYAML(node *yaml.Node) error {
	if err := defaults.Set(s); err != nil {
		return err
	}
	type raw AcctSection
	return node.Decode((*raw)(s))
}

// Resolve walks a dotted reference path to a nested section. An empty path or
// "." resolves to the section itself.
func (s *AcctSection) Resolve(path string) *AcctSection {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return s
	}
	current := s
	for part := range strings.SplitSeq(path, ".") {
		next, ok := current.Sections[part]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// LoadConfig reads and validates an engine configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates an engine configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs all startup-fatal consistency checks and resolves
// derived fields. It must be called once before the config is shared.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("'server' must be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid 'port' value %d", c.Port)
	}

	// Object-specific base DNs fall back to the global one.
	if c.User.BaseDN == "" {
		if c.BaseDN == "" {
			return errors.New("'basedn' must be set if there is no 'user.basedn'")
		}
		c.User.BaseDN = c.BaseDN
	}
	if c.Group.BaseDN == "" {
		if c.BaseDN == "" {
			return errors.New("'basedn' must be set if there is no 'group.basedn'")
		}
		c.Group.BaseDN = c.BaseDN
	}

	var ok bool
	if c.userScope, ok = directory.ParseScope(c.User.Scope); !ok {
		return fmt.Errorf("invalid 'user.scope' value %q, expected 'sub', 'one' or 'base'", c.User.Scope)
	}
	if c.groupScope, ok = directory.ParseScope(c.Group.Scope); !ok {
		return fmt.Errorf("invalid 'group.scope' value %q, expected 'sub', 'one' or 'base'", c.Group.Scope)
	}

	if c.Group.CacheableName && c.Group.MembershipFilter != "" && c.Group.NameAttribute == "" {
		return errors.New("'group.name_attribute' must be set if cacheable group names are enabled")
	}
	if c.Group.CacheAttribute == "" {
		c.Group.CacheAttribute = DefaultGroupCacheAttr
	}

	// The expanded map carries the declared entries plus up to three fixed
	// extra attributes (access, membership, profile).
	if len(c.Map)+3 > MaxAttrMapEntries {
		return fmt.Errorf("attribute map size exceeded: %d entries (max %d)", len(c.Map), MaxAttrMapEntries-3)
	}
	for i, m := range c.Map {
		if m.Attr == "" {
			return fmt.Errorf("map entry %d: 'attr' must be set", i)
		}
		if m.Name == "" {
			return fmt.Errorf("map entry %d: 'name' must be set", i)
		}
		if m.List != ListCheck && m.List != ListReply {
			return fmt.Errorf("map entry %d: invalid list %q, expected 'check' or 'reply'", i, m.List)
		}
		if m.Op != "add" && m.Op != "set" {
			return fmt.Errorf("map entry %d: invalid op %q, expected 'add' or 'set'", i, m.Op)
		}
	}

	if err := validateAcctSection("accounting", c.Accounting); err != nil {
		return err
	}
	if err := validateAcctSection("post_auth", c.PostAuth); err != nil {
		return err
	}

	return nil
}

func validateAcctSection(name string, s *AcctSection) error {
	if s == nil {
		return nil
	}
	if len(s.Update) > MaxAttrMapEntries {
		return fmt.Errorf("%s: update block size exceeded: %d entries (max %d)", name, len(s.Update), MaxAttrMapEntries)
	}
	for i, u := range s.Update {
		if u.Attr == "" {
			return fmt.Errorf("%s: update entry %d: 'attr' must be set", name, i)
		}
		switch u.Op {
		case "add", "set", "sub", "delete", "increment":
		case "equals":
			return fmt.Errorf("%s: update entry %d: operator 'equals' is not supported for directory modify operations", name, i)
		default:
			return fmt.Errorf("%s: update entry %d: operator %q is not supported for directory modify operations", name, i, u.Op)
		}
	}
	for sub, nested := range s.Sections {
		if err := validateAcctSection(name+"."+sub, nested); err != nil {
			return err
		}
	}
	return nil
}

// UserScope returns the parsed user search scope.
func (c *Config) UserScope() directory.Scope { return c.userScope }

// GroupScope returns the parsed group search scope.
func (c *Config) GroupScope() directory.Scope { return c.groupScope }

// DirectoryConfig builds the session broker configuration, loading any
// configured TLS material. File errors here are startup-fatal.
func (c *Config) DirectoryConfig() (*directory.Config, error) {
	dc := directory.DefaultConfig()
	dc.Host = c.Server
	dc.Port = c.Port
	dc.BaseDN = c.BaseDN
	dc.BindDN = c.Identity
	dc.Password = c.Password
	dc.PoolSize = c.Options.PoolSize
	dc.MaxIdleTime = c.Options.IdleTimeout
	dc.NetTimeout = c.Options.NetTimeout
	dc.ResTimeout = c.Options.ResTimeout
	dc.StartTLS = c.TLS.StartTLS
	dc.UseTLS = c.Port == 636 && !c.TLS.StartTLS

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	switch c.TLS.RequireCert {
	case "demand", "":
	case "allow", "never":
		tlsConfig.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("invalid 'tls.require_cert' value %q", c.TLS.RequireCert)
	}

	if c.TLS.CACertFile != "" {
		pem, err := os.ReadFile(c.TLS.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLS.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.TLS.CertFile != "" || c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	dc.TLSConfig = tlsConfig
	return dc, nil
}
