// Package exchange implements the token-exchange boundary with the
// platform's auth backend. It trades an authorization code for the
// complete login payload (credentials, user, tenant, permissions) and
// validates the payload's shape explicitly before anything downstream
// trusts it.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/authstate"
	"golang.org/x/exp/slices"
	"golang.org/x/oauth2"
)

var (
	ErrMissingConfig    = errors.New("missing OAuth 2.0 config")
	ErrMissingIDToken   = errors.New("missing id_token")
	ErrMalformedPayload = errors.New("malformed token exchange payload")
	ErrNoExpiry         = errors.New("no usable token expiry in payload")
)

// Payload is the complete response of a successful exchange. The login
// orchestrator maps it directly into the persisted auth state; credential
// values are never reinterpreted or transformed.
type Payload struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	User         authstate.User
	Tenant       authstate.Tenant
	Permissions  []string
}

// Exchanger trades an authorization code for a Payload.
type Exchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*Payload, error)
}

// OAuth2Exchanger is an Exchanger backed by an OAuth 2.0 authorization
// code flow against the platform's token endpoint.
type OAuth2Exchanger struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	authOpts []oauth2.AuthCodeOption
	logger   *slog.Logger
}

type Option func(e *OAuth2Exchanger) error

// WithLogger configures the exchanger with the given logger
// If left unconfigured, logging will be disabled
func WithLogger(logger *slog.Logger) Option {
	return func(e *OAuth2Exchanger) error {
		e.logger = logger
		return nil
	}
}

// WithHTTPClient configures the HTTP client used for the exchange call.
// If left unconfigured, http.DefaultClient is used
func WithHTTPClient(client *http.Client) Option {
	return func(e *OAuth2Exchanger) error {
		e.client = client
		return nil
	}
}

// WithAuthCodeOptions configures extra parameters included in every
// authorization URL and exchange call
func WithAuthCodeOptions(opts ...oauth2.AuthCodeOption) Option {
	return func(e *OAuth2Exchanger) error {
		e.authOpts = opts
		return nil
	}
}

// WithProvider discovers the provider's endpoints from providerURL and
// enables id_token verification against it. The openid scope is requested
// automatically.
// If left unconfigured, the endpoints on the OAuth 2.0 config are used as
// given and no id_token verification is performed
func WithProvider(ctx context.Context, providerURL string) Option {
	return func(e *OAuth2Exchanger) error {
		provider, err := oidc.NewProvider(ctx, providerURL)
		if err != nil {
			return fmt.Errorf("could not query provider: %w", err)
		}
		e.config.Endpoint = provider.Endpoint()
		if !slices.Contains(e.config.Scopes, oidc.ScopeOpenID) {
			e.config.Scopes = append(e.config.Scopes, oidc.ScopeOpenID)
		}
		e.verifier = provider.Verifier(&oidc.Config{ClientID: e.config.ClientID})
		return nil
	}
}

func New(config *oauth2.Config, opts ...Option) (*OAuth2Exchanger, error) {
	if config == nil {
		return nil, ErrMissingConfig
	}

	e := &OAuth2Exchanger{config: config}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return e, nil
}

// AuthCodeURL returns the provider URL the user agent should visit to
// start an authorization attempt with the given state parameter.
func (e *OAuth2Exchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return e.config.AuthCodeURL(state, append(slices.Clone(e.authOpts), opts...)...)
}

// Exchange performs the authorization-code exchange and maps the response
// into a validated Payload. If a provider was configured, the id_token is
// verified before the payload is accepted.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*Payload, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}

	tok, err := e.config.Exchange(ctx, code, append(slices.Clone(e.authOpts), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("could not exchange token: %w", err)
	}

	if e.verifier != nil {
		rawIDToken, ok := tok.Extra("id_token").(string)
		if !ok {
			return nil, ErrMissingIDToken
		}
		idToken, err := e.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("could not verify id_token: %w", err)
		}
		e.logger.Debug("verified id_token", "sub", idToken.Subject)
	}

	return payloadFromToken(tok)
}

// payloadFromToken validates the token endpoint's response shape and maps
// it into a Payload. The external payload's shape is never trusted
// implicitly: every field the persisted record requires is checked for
// presence here, so a hole in the response surfaces as ErrMalformedPayload
// at the boundary instead of a validation failure at commit time.
func payloadFromToken(tok *oauth2.Token) (*Payload, error) {
	p := &Payload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if p.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedPayload)
	}
	if p.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh_token", ErrMalformedPayload)
	}

	if err := decodeExtra(tok, "user", &p.User); err != nil {
		return nil, err
	}
	if err := decodeExtra(tok, "tenant", &p.Tenant); err != nil {
		return nil, err
	}
	if err := decodeExtra(tok, "permissions", &p.Permissions); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"user.id", p.User.ID},
		{"user.email", p.User.Email},
		{"user.name", p.User.Name},
		{"user.role", p.User.Role},
		{"user.organization_id", p.User.OrganizationID},
		{"tenant.id", p.Tenant.ID},
		{"tenant.name", p.Tenant.Name},
		{"tenant.industry", p.Tenant.Industry},
		{"tenant.subscription_plan", p.Tenant.SubscriptionPlan},
	} {
		if f.value == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, f.name)
		}
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}

	if !tok.Expiry.IsZero() {
		p.ExpiresIn = time.Until(tok.Expiry)
	} else {
		exp, err := tokenExp(tok.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoExpiry, err)
		}
		p.ExpiresIn = time.Until(exp)
	}
	if p.ExpiresIn <= 0 {
		return nil, ErrNoExpiry
	}

	return p, nil
}

// decodeExtra re-decodes the named extra field of the token response into
// dst, failing if the field is absent or the wrong shape.
func decodeExtra(tok *oauth2.Token, name string, dst any) error {
	v := tok.Extra(name)
	if v == nil {
		return fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	return nil
}

// tokenExp falls back to the access token's exp claim for endpoints that
// omit expires_in. The token is not verified here; it was just issued by
// the endpoint we exchanged with.
func tokenExp(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
