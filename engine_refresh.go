package tenantauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tenantauth/jwt"
)

// Refresh verifies a refresh token and mints a new access and refresh pair.
// Rotation is stateless: there is no revocation list, and an expired token
// fails with ErrTokenExpired.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	_, span := e.startSpan(ctx, "Refresh")
	var err error
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		err = fmt.Errorf("%w: refresh token required", ErrValidation)
		return nil, err
	}
	pair, err := e.tokens.Rotate(refreshToken)
	if err != nil {
		err = tokenError(err)
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	return &Tokens{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// Authenticate verifies an access token and loads its subject. Role and
// flags come from the store, never from the token.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (User, error) {
	if e == nil || e.tokens == nil {
		return User{}, ErrEngineNotReady
	}
	if accessToken == "" {
		return User{}, fmt.Errorf("%w: missing access token", ErrTokenInvalid)
	}
	claims, err := e.tokens.Parse(accessToken, jwt.TypeAccess)
	if err != nil {
		return User{}, tokenError(err)
	}
	u, err := e.store.GetUserByPublicID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
		}
		return User{}, e.storeError("get_user_by_public_id", err)
	}
	if u.Disabled {
		return User{}, ErrAccountDisabled
	}
	return u, nil
}
