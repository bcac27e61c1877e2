// Package auth: alternate login providers. auth.login accepts a password by
// default; a caller that instead supplies a provider name plus an assertion
// (a JWT, an OIDC id_token, or a SAML response) is authenticated against the
// matching Provider here instead of a local password check.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/crewjam/saml"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ExternalIdentity is what a Provider resolves an assertion to: enough to
// look the local account up by username.
type ExternalIdentity struct {
	Username string
	Email    string
}

// Provider authenticates one externally-issued assertion into an
// ExternalIdentity.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, assertion string) (*ExternalIdentity, error)
}

// Registry dispatches auth.login's optional {provider, assertion} pair to
// the matching Provider. Unconfigured providers are simply never
// registered; dispatch to a name with no registered Provider fails closed.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty Registry; callers Register each configured
// Provider.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its own Name(), replacing any provider already
// registered under that name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Authenticate dispatches to the named provider.
func (r *Registry) Authenticate(ctx context.Context, name, assertion string) (*ExternalIdentity, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown auth provider %q", name)
	}
	return p.Authenticate(ctx, assertion)
}

// JWTProvider authenticates a caller-supplied JWT signed with a shared
// HMAC secret, trusting its "sub" (and optional "email") claim.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider builds a JWTProvider around a shared HMAC secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

func (p *JWTProvider) Name() string { return "jwt" }

func (p *JWTProvider) Authenticate(ctx context.Context, assertion string) (*ExternalIdentity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("jwt assertion rejected: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("jwt assertion missing sub claim")
	}
	email, _ := claims["email"].(string)
	return &ExternalIdentity{Username: sub, Email: email}, nil
}

// OIDCProvider verifies a caller-supplied id_token against an OpenID
// Connect issuer's published keys.
type OIDCProvider struct {
	verifier    *oidc.IDTokenVerifier
	oauthConfig oauth2.Config
}

// NewOIDCProvider discovers issuerURL's OIDC configuration and builds an
// OIDCProvider plus the oauth2.Config an interactive authorization-code
// flow would use to obtain an id_token in the first place.
func NewOIDCProvider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer %s: %w", issuerURL, err)
	}
	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func (p *OIDCProvider) Name() string { return "oidc" }

// AuthCodeURL returns the URL a client should be redirected to in order to
// start the authorization-code flow this provider's oauth2.Config wires up.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

func (p *OIDCProvider) Authenticate(ctx context.Context, assertion string) (*ExternalIdentity, error) {
	idToken, err := p.verifier.Verify(ctx, assertion)
	if err != nil {
		return nil, fmt.Errorf("oidc assertion rejected: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Subject           string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc claims decode: %w", err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Subject
	}
	return &ExternalIdentity{Username: username, Email: claims.Email}, nil
}

// SAMLProvider validates a base64-encoded SAMLResponse form value against
// one identity provider's published metadata.
type SAMLProvider struct {
	sp *saml.ServiceProvider
}

// NewSAMLProvider builds a SAMLProvider for one service-provider identity,
// validating assertions issued to acsURL against idpMetadata.
func NewSAMLProvider(entityID, acsURL string, idpMetadata *saml.EntityDescriptor) (*SAMLProvider, error) {
	parsed, err := url.Parse(acsURL)
	if err != nil {
		return nil, fmt.Errorf("parse saml acs url: %w", err)
	}
	return &SAMLProvider{sp: &saml.ServiceProvider{
		EntityID:    entityID,
		AcsURL:      *parsed,
		IDPMetadata: idpMetadata,
	}}, nil
}

func (p *SAMLProvider) Name() string { return "saml" }

// Authenticate treats assertion as the base64-encoded SAMLResponse value a
// browser POSTs to the ACS endpoint, wrapping it in a synthetic request so
// it can go through ServiceProvider's own response validation.
func (p *SAMLProvider) Authenticate(ctx context.Context, assertion string) (*ExternalIdentity, error) {
	form := url.Values{"SAMLResponse": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sp.AcsURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build saml request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := req.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse saml form: %w", err)
	}

	parsed, err := p.sp.ParseResponse(req, nil)
	if err != nil {
		return nil, fmt.Errorf("saml assertion rejected: %w", err)
	}

	identity := &ExternalIdentity{}
	if parsed.Subject != nil && parsed.Subject.NameID != nil {
		identity.Username = parsed.Subject.NameID.Value
	}
	for _, stmt := range parsed.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			switch attr.Name {
			case "email", "Email", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress":
				identity.Email = attr.Values[0].Value
			}
		}
	}
	if identity.Username == "" {
		return nil, fmt.Errorf("saml assertion missing subject name id")
	}
	return identity, nil
}
