// Package auth exchanges techread account credentials for access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

// Authenticator implements domain.Authenticator with the OAuth2 resource
// owner password grant. The token is reused until it expires, so sessions
// of one client share it.
type Authenticator struct {
	oauth      oauth2.Config
	username   string
	password   string
	httpClient *http.Client
	logger     *observability.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewAuthenticator creates an authenticator. Nothing is sent until
// Authenticate is called.
func NewAuthenticator(tokenURL string, creds config.CredentialsConfig, httpClient *http.Client, logger *observability.Logger) *Authenticator {
	if logger == nil {
		logger = observability.Nop()
	}

	return &Authenticator{
		oauth: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   creds.Username,
		password:   creds.Password,
		httpClient: httpClient,
		logger:     logger.WithOperation("auth"),
	}
}

// Authenticate returns the cached access token, requesting a new one when
// there is none or it has expired. Failed requests are not cached.
func (a *Authenticator) Authenticate(ctx context.Context) (*domain.Credentials, error) {
	if a.username == "" || a.password == "" || a.oauth.ClientID == "" {
		return nil, domain.AuthenticationError("missing credentials", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.token.Valid() {
		tok, err := a.fetch(ctx)
		if err != nil {
			return nil, err
		}
		a.token = tok
	}

	username := a.username
	if u, ok := a.token.Extra("username").(string); ok && strings.TrimSpace(u) != "" {
		username = u
	}

	return &domain.Credentials{
		AccessToken: a.token.AccessToken,
		Username:    username,
	}, nil
}

// Release drops the cached token. The next Authenticate requests a new one.
func (a *Authenticator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
}

func (a *Authenticator) fetch(ctx context.Context) (*oauth2.Token, error) {
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	tok, err := a.oauth.PasswordCredentialsToken(ctx, a.username, a.password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			msg := fmt.Sprintf("credentials rejected (status %d", re.Response.StatusCode)
			if re.ErrorCode != "" {
				msg += ", " + re.ErrorCode
			}
			return nil, domain.AuthenticationError(msg+")", err)
		}
		return nil, domain.TransmissionError("token request failed", err)
	}

	a.logger.Debug().Dur("expires_in", time.Until(tok.Expiry).Round(time.Second)).Msg("Token issued")
	return tok, nil
}

var _ domain.Authenticator = (*Authenticator)(nil)
