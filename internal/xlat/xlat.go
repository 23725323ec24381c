// Package xlat implements template expansion for filters, DNs, attribute
// names and modify values. Templates reference request attributes with
// %{Attr-Name}; "%%" produces a literal percent sign.
package xlat

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-authd/internal/request"
)

// EscapeFunc transforms a substituted value before it is written into the
// expansion result.
type EscapeFunc func(string) string

// Expand substitutes %{Attr-Name} references in tmpl against the request
// context. Unknown attributes expand to the empty string; a syntactically
// malformed template is an error.
func Expand(tmpl string, req *request.Request) (string, error) {
	return expand(tmpl, req, nil)
}

// ExpandFilter is Expand with LDAP filter escaping applied to every
// substituted value, for templates destined to become search filters.
func ExpandFilter(tmpl string, req *request.Request) (string, error) {
	return expand(tmpl, req, ldap.EscapeFilter)
}

// ContainsRef reports whether tmpl contains any expansion markers.
func ContainsRef(tmpl string) bool {
	return strings.Contains(tmpl, "%")
}

func expand(tmpl string, req *request.Request, escape EscapeFunc) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}

		if i+1 >= len(tmpl) {
			return "", fmt.Errorf("unterminated expansion at end of %q", tmpl)
		}

		switch tmpl[i+1] {
		case '%':
			out.WriteByte('%')
			i++
		case '{':
			end := strings.IndexByte(tmpl[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated attribute reference in %q", tmpl)
			}
			name := tmpl[i+2 : i+2+end]
			if name == "" {
				return "", fmt.Errorf("empty attribute reference in %q", tmpl)
			}
			value, _ := req.Get(name)
			if escape != nil {
				value = escape(value)
			}
			out.WriteString(value)
			i += 2 + end
		default:
			return "", fmt.Errorf("invalid expansion %q in %q", tmpl[i:i+2], tmpl)
		}
	}

	return out.String(), nil
}
