/*
Package directory provides the LDAP session layer for the decision engine.

The package is organized into several core components:

  - Broker: bounded session pool handing out connections bound as the
    service identity, with idle reaping and rebind tracking
  - Session: one leased connection, used strictly sequentially for
    search, bind and modify operations
  - Error taxonomy: typed errors categorized by LDAP result code
  - Helpers: DN syntax checks and escaping, RFC 4516 URL parsing

# Connection Management

The broker establishes connections lazily and retries only initial
establishment, with exponential backoff. A session that was bound as a
user identity is marked rebound and re-bound as the service identity
before it is leased again. Service authentication supports anonymous,
simple bind and Kerberos GSSAPI.

# Usage

	broker, err := directory.NewBroker(cfg, logger)
	if err != nil {
		return err
	}
	sess, err := broker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer broker.Release(sess)

	res, err := sess.Search(ctx, &directory.SearchRequest{...})
*/
package directory
