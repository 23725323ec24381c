package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory classifies directory errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// Error provides categorized error information for directory operations.
type Error struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	Code      uint16        // LDAP result code, 0 when not applicable
	DN        string        // DN involved, if any
	Cause     error         // Underlying error
}

func (e *Error) Error() string {
	var parts []string
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d)", e.Operation, e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed", e.Operation))
	}
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WrapError wraps an error with operation context and a category derived from
// its LDAP result code, if it has one.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	wrapped := &Error{Operation: operation, Cause: err}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		wrapped.Code = ldapErr.ResultCode
		wrapped.Category = categorizeCode(ldapErr.ResultCode)
	} else {
		wrapped.Category = categorizeGeneric(err)
	}
	return wrapped
}

// ResultCode extracts the LDAP result code from an error chain, or 0.
func ResultCode(err error) uint16 {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return ldapErr.ResultCode
	}
	var dirErr *Error
	if errors.As(err, &dirErr) {
		return dirErr.Code
	}
	return 0
}

// Category returns the category of an error.
func Category(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	var dirErr *Error
	if errors.As(err, &dirErr) {
		return dirErr.Category
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeCode(ldapErr.ResultCode)
	}
	return categorizeGeneric(err)
}

// IsTimeout reports whether the error indicates a directory timeout or a
// server that returned no result in time.
func IsTimeout(err error) bool {
	return Category(err) == ErrorCategoryTimeout
}

func categorizeCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultTimeout:
		return ErrorCategoryTimeout

	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

func categorizeGeneric(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded"):
		return ErrorCategoryTimeout
	case strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "credentials") ||
		strings.Contains(errStr, "authentication"):
		return ErrorCategoryAuthentication
	default:
		return ErrorCategoryUnknown
	}
}
