package auth

import (
	"context"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
)

// oidcClaims are the JWT claims extracted for authentication. Groups, when
// present, become cluster:view/cluster:exec-style permissions verbatim.
type oidcClaims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Groups  []string `json:"groups"`
}

// OIDCAuthenticator validates bearer tokens against an OIDC provider's
// discovery document and JWKS. The provider owns key fetch/cache/TTL, so
// this type carries no cache of its own.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL. This
// makes a network call to fetch the provider's signing keys.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, audience string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Unavailable, "discover OIDC provider "+issuerURL, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: audience})
	return &OIDCAuthenticator{verifier: verifier}, nil
}

// Authenticate verifies the signature, exp, iss, and aud claims of
// bearerToken and returns the AuthContext it resolves to.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, bearerToken string) (kubently.AuthContext, error) {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		return kubently.AuthContext{}, kerrors.New(kerrors.Unauthenticated, "empty bearer token")
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return kubently.AuthContext{}, kerrors.Wrap(kerrors.Unauthenticated, "verify bearer token", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return kubently.AuthContext{}, kerrors.Wrap(kerrors.Unauthenticated, "extract token claims", err)
	}
	if claims.Subject == "" {
		return kubently.AuthContext{}, kerrors.New(kerrors.Unauthenticated, "token missing sub claim")
	}

	identity := claims.Email
	if identity == "" {
		identity = claims.Subject
	}

	perms := make(map[string]struct{}, len(claims.Groups))
	for _, g := range claims.Groups {
		perms[g] = struct{}{}
	}
	return kubently.AuthContext{
		Identity:    identity,
		Method:      kubently.AuthBearerToken,
		Permissions: perms,
	}, nil
}
