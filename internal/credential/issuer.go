// Package credential mints session credentials. A credential snapshots the
// user's active role at issuance time; it is a cache hint for clients,
// never an input to authorization, which re-reads the role registry.
package credential

import (
	"context"
	"fmt"
	"time"

	"multirole-accounts/internal/db"
	"multirole-accounts/internal/role"
	"multirole-accounts/internal/security"
)

// Credential is a signed, time-bounded assertion of identity and the
// (advisory) active role at issuance.
type Credential struct {
	Token      string
	ActiveRole role.Kind
	ExpiresAt  time.Time
}

// ActiveRoleReader reads the authoritative active role for a user.
type ActiveRoleReader interface {
	ActiveRole(ctx context.Context, q db.Querier, userID string) (role.Kind, error)
}

// Issuer mints credentials from the current registry state. It never
// accepts an externally supplied active role.
type Issuer struct {
	reader   db.Querier
	registry ActiveRoleReader
	tokens   *security.TokenProvider
}

// NewIssuer returns an Issuer reading role state through reader (the
// connection pool) and signing with tokens.
func NewIssuer(reader db.Querier, registry ActiveRoleReader, tokens *security.TokenProvider) *Issuer {
	return &Issuer{reader: reader, registry: registry, tokens: tokens}
}

// Issue reads the user's active role at this instant and signs a credential
// embedding it.
func (i *Issuer) Issue(ctx context.Context, userID string) (*Credential, error) {
	active, err := i.registry.ActiveRole(ctx, i.reader, userID)
	if err != nil {
		return nil, fmt.Errorf("read active role: %w", err)
	}
	token, _, expiresAt, err := i.tokens.Issue(userID, string(active))
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}
	return &Credential{Token: token, ActiveRole: active, ExpiresAt: expiresAt}, nil
}

// Validate parses and verifies a credential. The returned claims'
// ActiveRole is advisory only.
func (i *Issuer) Validate(token string) (*security.CredentialClaims, error) {
	return i.tokens.Validate(token)
}
