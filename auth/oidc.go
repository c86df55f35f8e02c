package auth

import (
	"context"
	"math"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
)

// Errors for OIDC claim validation.

type ErrInvalidAudience struct{ Expected, Got string }

func (e ErrInvalidAudience) Error() string {
	return "invalid audience: expected " + e.Expected + " got " + e.Got
}

type ErrTokenExpired struct{}

func (e ErrTokenExpired) Error() string { return "token expired" }

// OIDCVerifier validates bearer tokens against an external issuer instead of
// the local HS256 secret. It satisfies api.TokenVerifier.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	audience string
}

// NewOIDCVerifier performs issuer discovery with exponential backoff; the
// issuer usually comes up alongside the server in compose environments.
func NewOIDCVerifier(ctx context.Context, logger *zap.Logger, issuer, clientID, audience string) (*OIDCVerifier, error) {
	const maxAttempts = 8
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err == nil {
			logger.Info("oidc provider initialized",
				zap.String("issuer", issuer), zap.Int("attempt", attempt))
			return &OIDCVerifier{
				verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
				audience: audience,
			}, nil
		}
		lastErr = err
		sleep := time.Duration(math.Min(float64(30*time.Second), float64(time.Second)*math.Pow(2, float64(attempt))))
		logger.Error("oidc provider init failed",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("next_sleep", sleep))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Verify checks the token signature plus audience and expiration claims and
// returns the subject as the user id.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (string, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	var claims struct {
		Sub string `json:"sub"`
		Aud string `json:"aud"`
		Exp int64  `json:"exp"`
	}
	if err := tok.Claims(&claims); err != nil {
		return "", err
	}
	if claims.Aud != v.audience {
		return "", ErrInvalidAudience{Expected: v.audience, Got: claims.Aud}
	}
	if time.Now().Unix() > claims.Exp {
		return "", ErrTokenExpired{}
	}
	return claims.Sub, nil
}
