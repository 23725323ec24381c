package directory

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// gssapiBind authenticates a connection as the service identity using
// GSSAPI/Kerberos. Credential priority: explicit ccache, keytab, password.
func gssapiBind(conn *ldap.Conn, cfg *Config) error {
	if cfg.KerberosRealm == "" {
		return fmt.Errorf("kerberos realm is required for GSSAPI bind")
	}

	client, err := newGSSAPIClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn := cfg.KerberosSPN
	if spn == "" {
		spn = fmt.Sprintf("ldap/%s", cfg.Host)
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

func newGSSAPIClient(cfg *Config) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	principal := cfg.BindDN
	if at := strings.IndexByte(principal, '@'); at >= 0 {
		principal = principal[:at]
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, cfg.KerberosRealm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if principal != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(principal, cfg.KerberosRealm, cfg.Password, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
