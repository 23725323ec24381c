package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/ldap-authd/internal/directory"
	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// QueryURL resolves a directory URL (or a template expanding to one) to a
// single attribute value: the first value of the requested attribute on the
// first matching entry. The URL must request exactly one concrete attribute,
// and a URL naming a host is rejected unless it matches the configured
// server, so a template cannot redirect the query elsewhere. A result longer
// than maxLen (when positive) fails rather than silently truncating.
func (e *Engine) QueryURL(ctx context.Context, req *request.Request, urlOrTemplate string, maxLen int) (string, error) {
	raw := urlOrTemplate
	if xlat.ContainsRef(raw) {
		expanded, err := xlat.ExpandFilter(raw, req)
		if err != nil {
			return "", fmt.Errorf("failed to expand directory URL: %w", err)
		}
		raw = expanded
	}

	u, err := directory.ParseURL(raw)
	if err != nil {
		return "", err
	}

	if len(u.Attributes) != 1 {
		return "", fmt.Errorf("directory URL must request exactly one attribute, got %d", len(u.Attributes))
	}
	attr := u.Attributes[0]
	if attr == "*" || attr == "+" {
		return "", errors.New("directory URL must request a named attribute, not a wildcard")
	}

	if u.Host != "" && !strings.EqualFold(u.Host, e.cfg.Server) {
		return "", fmt.Errorf("directory URL host %q does not match the configured server", u.Host)
	}
	if u.Port != 0 && u.Port != e.cfg.Port {
		return "", fmt.Errorf("directory URL port %d does not match the configured port", u.Port)
	}

	sess, err := e.broker.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire directory session: %w", err)
	}
	defer e.broker.Release(sess)

	res, err := sess.Search(ctx, &directory.SearchRequest{
		BaseDN:     u.DN,
		Scope:      u.Scope,
		Filter:     u.Filter,
		Attributes: u.Attributes,
	})
	if err != nil {
		return "", err
	}
	if len(res.Entries) == 0 {
		e.log.Debug("directory URL query returned no entries", map[string]any{"basedn": u.DN})
		return "", nil
	}

	value := res.Entries[0].GetAttributeValue(attr)
	if maxLen > 0 && len(value) > maxLen {
		return "", fmt.Errorf("attribute %q value exceeds %d bytes", attr, maxLen)
	}
	return value, nil
}
