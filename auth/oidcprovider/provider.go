// Package oidcprovider implements the auth.IdentityProvider contract on top of
// OIDC discovery, using coreos/go-oidc for ID token verification and
// golang.org/x/oauth2 for the authorization-code grant.
package oidcprovider

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/agilehead/persona/auth"
)

var _ auth.IdentityProvider = (*Provider)(nil)

// Provider talks to one external OIDC identity provider. Discovery metadata is
// fetched lazily on first use and cached for the provider's lifetime;
// discovery documents are effectively static.
type Provider struct {
	name         string
	issuer       string
	clientID     string
	clientSecret string
	scopes       []string

	mu       sync.Mutex
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// New builds a provider for the given OIDC issuer. name is the stable
// identifier stored on identities (e.g. "google").
func New(name, issuer, clientID, clientSecret string) *Provider {
	return &Provider{
		name:         name,
		issuer:       issuer,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
}

func (p *Provider) Name() string {
	return p.name
}

// discover performs OIDC discovery once and caches the result.
func (p *Provider) discover(ctx context.Context) (*oidc.Provider, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider != nil {
		return p.provider, p.verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, p.issuer)
	if err != nil {
		return nil, nil, errors.Wrap(err, "oidc.NewProvider")
	}
	p.provider = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.clientID})
	return p.provider, p.verifier, nil
}

func (p *Provider) oauth2Config(provider *oidc.Provider, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
	}
}

func (p *Provider) AuthCodeURL(ctx context.Context, state, nonce, codeChallenge, redirectURL string) (string, error) {
	provider, _, err := p.discover(ctx)
	if err != nil {
		return "", errors.Wrap(err, "[Provider.AuthCodeURL] discover")
	}

	cfg := p.oauth2Config(provider, redirectURL)
	return cfg.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, redirectURL, expectedNonce string) (*auth.ProviderClaims, error) {
	provider, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.Exchange] discover")
	}

	cfg := p.oauth2Config(provider, redirectURL)
	oauth2Token, err := cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.Exchange] code exchange")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("[Provider.Exchange] no id_token in token response")
	}

	// Verify the ID token signature and claims.
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.Exchange] id token verification")
	}

	var claims struct {
		Nonce   string `json:"nonce"`
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Provider.Exchange] extract claims")
	}

	// Reject replayed assertions.
	if claims.Nonce != expectedNonce {
		return nil, errors.New("[Provider.Exchange] nonce mismatch")
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		raw = nil
	}

	return &auth.ProviderClaims{
		Subject: claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
		Raw:     raw,
	}, nil
}
