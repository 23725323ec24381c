package directory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError("search", nil))

	ldapErr := ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password"))
	wrapped := WrapError("bind", ldapErr)

	var dirErr *Error
	require.ErrorAs(t, wrapped, &dirErr)
	assert.Equal(t, "bind", dirErr.Operation)
	assert.Equal(t, uint16(ldap.LDAPResultInvalidCredentials), dirErr.Code)
	assert.Equal(t, ErrorCategoryAuthentication, dirErr.Category)

	// Wrapping is idempotent.
	assert.Same(t, wrapped, WrapError("outer", wrapped))
}

func TestWrapErrorPreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := WrapError("connect", fmt.Errorf("dial: %w", cause))
	assert.ErrorIs(t, wrapped, cause)
}

func TestCategorizeByResultCode(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want ErrorCategory
	}{
		{"invalid credentials", ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication},
		{"insufficient access", ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission},
		{"unwilling to perform", ldap.LDAPResultUnwillingToPerform, ErrorCategoryPermission},
		{"no such object", ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound},
		{"time limit exceeded", ldap.LDAPResultTimeLimitExceeded, ErrorCategoryTimeout},
		{"server down", ldap.LDAPResultServerDown, ErrorCategoryConnection},
		{"busy", ldap.LDAPResultBusy, ErrorCategoryServer},
		{"unmapped code", ldap.LDAPResultSaslBindInProgress, ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ldap.NewError(tt.code, errors.New("x"))
			assert.Equal(t, tt.want, Category(err))
		})
	}
}

func TestCategorizeGenericErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"deadline", errors.New("context deadline exceeded"), ErrorCategoryTimeout},
		{"network", errors.New("connection reset by peer"), ErrorCategoryConnection},
		{"auth text", errors.New("authentication handshake failed"), ErrorCategoryAuthentication},
		{"other", errors.New("something odd"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.err))
		})
	}
}

func TestResultCode(t *testing.T) {
	ldapErr := ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("missing"))
	assert.Equal(t, uint16(ldap.LDAPResultNoSuchObject), ResultCode(ldapErr))
	assert.Equal(t, uint16(ldap.LDAPResultNoSuchObject), ResultCode(WrapError("search", ldapErr)))
	assert.Equal(t, uint16(0), ResultCode(errors.New("plain")))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("slow"))))
	assert.True(t, IsTimeout(errors.New("i/o timeout")))
	assert.False(t, IsTimeout(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("no"))))
}

func TestErrorString(t *testing.T) {
	err := &Error{
		Operation: "modify",
		Code:      ldap.LDAPResultInsufficientAccessRights,
		DN:        "uid=alice,dc=example,dc=org",
		Cause:     errors.New("denied"),
	}
	assert.Equal(t, "directory modify failed (code 50) - DN: uid=alice,dc=example,dc=org - denied", err.Error())
}
