package directory

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URL is a parsed RFC 4516 LDAP URL:
// ldap[s]://host:port/dn?attributes?scope?filter
type URL struct {
	Scheme     string   // "ldap" or "ldaps"
	Host       string   // Empty when the URL names no host
	Port       int      // 0 when the URL names no port
	DN         string   // Search base DN
	Attributes []string // Requested attributes
	Scope      Scope
	Filter     string
}

// IsURL reports whether the string looks like an LDAP URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "ldap://") || strings.HasPrefix(s, "ldaps://")
}

// ParseURL parses an RFC 4516 LDAP URL. Scope defaults to base and filter to
// (objectClass=*) when absent, per the RFC.
func ParseURL(raw string) (*URL, error) {
	var scheme string
	switch {
	case strings.HasPrefix(raw, "ldap://"):
		scheme = "ldap"
		raw = strings.TrimPrefix(raw, "ldap://")
	case strings.HasPrefix(raw, "ldaps://"):
		scheme = "ldaps"
		raw = strings.TrimPrefix(raw, "ldaps://")
	default:
		return nil, fmt.Errorf("not an LDAP URL")
	}

	u := &URL{
		Scheme: scheme,
		Scope:  ScopeBaseObject,
		Filter: "(objectClass=*)",
	}

	hostport := raw
	if slash := strings.IndexByte(raw, '/'); slash >= 0 {
		hostport = raw[:slash]
		raw = raw[slash+1:]
	} else {
		raw = ""
	}

	if hostport != "" {
		host, port, err := splitHostPort(hostport)
		if err != nil {
			return nil, err
		}
		u.Host = host
		u.Port = port
	}

	// dn?attributes?scope?filter?extensions
	parts := strings.SplitN(raw, "?", 5)
	for i, part := range parts {
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return nil, fmt.Errorf("invalid URL escape in %q: %w", part, err)
		}
		switch i {
		case 0:
			u.DN = decoded
		case 1:
			if decoded != "" {
				for _, attr := range strings.Split(decoded, ",") {
					if attr = strings.TrimSpace(attr); attr != "" {
						u.Attributes = append(u.Attributes, attr)
					}
				}
			}
		case 2:
			if decoded != "" {
				scope, ok := ParseScope(decoded)
				if !ok {
					return nil, fmt.Errorf("invalid scope %q in LDAP URL", decoded)
				}
				u.Scope = scope
			}
		case 3:
			if decoded != "" {
				u.Filter = decoded
			}
		}
	}

	return u, nil
}

func splitHostPort(hostport string) (string, int, error) {
	colon := strings.LastIndexByte(hostport, ':')
	if bracket := strings.LastIndexByte(hostport, ']'); bracket >= 0 {
		// Bracketed IPv6 literal; a port separator only counts after
		// the closing bracket.
		if !strings.HasPrefix(hostport, "[") {
			return "", 0, fmt.Errorf("invalid host in LDAP URL %q", hostport)
		}
		if colon < bracket {
			colon = -1
		}
	}
	host := hostport
	if colon >= 0 {
		host = hostport[:colon]
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if colon < 0 {
		return host, 0, nil
	}
	port, err := strconv.Atoi(hostport[colon+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in LDAP URL host %q", hostport)
	}
	return host, port, nil
}
