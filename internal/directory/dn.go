package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// IsDN reports whether the identifier is syntactically a distinguished name.
// Used to decide between DN and plain-name group comparison semantics.
func IsDN(s string) bool {
	if s == "" || !strings.Contains(s, "=") {
		return false
	}
	_, err := ldap.ParseDN(s)
	return err == nil
}

// DNEqual compares two DNs ignoring case and insignificant whitespace.
func DNEqual(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	da, err := ldap.ParseDN(a)
	if err != nil {
		return false
	}
	db, err := ldap.ParseDN(b)
	if err != nil {
		return false
	}
	return da.EqualFold(db)
}

// EscapeDNValue escapes special characters in a DN attribute value according
// to RFC 4514: the characters , + " \ < > ; always, a leading #, and leading
// or trailing spaces.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 8)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}
