// Package gmail adapts the Gmail API to the inbox pipeline's gateway
// contract, one authenticated client per user.
package gmail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/repository"
	"inboxvetter/pkg/config"
)

// TokenStore persists per-user OAuth tokens. A missing user satisfies
// errors.Is(err, repository.ErrTokensNotFound).
type TokenStore interface {
	GetTokens(ctx context.Context, email string) (*oauth2.Token, error)
	SaveTokens(ctx context.Context, email string, token *oauth2.Token) error
	DeleteTokens(ctx context.Context, email string) error
}

// Authenticator owns the OAuth client config and the token lifecycle:
// consent URL, code exchange, and eager refresh with write-back.
type Authenticator struct {
	config *oauth2.Config
	tokens TokenStore
	logger *zap.Logger
}

func NewAuthenticator(google config.GoogleConfig, tokens TokenStore, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		config: oauthConfig(google),
		tokens: tokens,
		logger: logger,
	}
}

func oauthConfig(cfg config.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailModifyScope},
	}
}

// AuthURL returns the consent URL for the given CSRF state. Offline access
// with forced approval so Google always returns a refresh token.
func (a *Authenticator) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists them.
func (a *Authenticator) Exchange(ctx context.Context, email, code string) error {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange failed: %w", err)
	}
	if err := a.tokens.SaveTokens(ctx, email, token); err != nil {
		return err
	}
	a.logger.Info("Mailbox connected", zap.String("email", email))
	return nil
}

// Disconnect drops the user's stored grant.
func (a *Authenticator) Disconnect(ctx context.Context, email string) error {
	return a.tokens.DeleteTokens(ctx, email)
}

// TokenSource loads the user's stored token, refreshes it up front so an
// expired grant fails here instead of midway through a run, and persists
// the refreshed token when it changed. Missing or revoked grants surface
// as inbox.ErrCredentialsMissing.
func (a *Authenticator) TokenSource(ctx context.Context, email string) (oauth2.TokenSource, error) {
	stored, err := a.tokens.GetTokens(ctx, email)
	if errors.Is(err, repository.ErrTokensNotFound) {
		return nil, inbox.ErrCredentialsMissing
	}
	if err != nil {
		return nil, err
	}

	source := a.config.TokenSource(ctx, stored)
	fresh, err := source.Token()
	if err != nil {
		a.logger.Warn("Token refresh failed", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("%w: refresh failed: %v", inbox.ErrCredentialsMissing, err)
	}

	if fresh.AccessToken != stored.AccessToken || fresh.RefreshToken != stored.RefreshToken {
		if err := a.tokens.SaveTokens(ctx, email, fresh); err != nil {
			// The run can proceed on the in-memory token; only the next
			// process start pays for the lost write.
			a.logger.Warn("Persisting refreshed token failed", zap.String("email", email), zap.Error(err))
		}
	}

	return oauth2.ReuseTokenSource(fresh, source), nil
}
