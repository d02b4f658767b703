// Package auth verifies the Google-signed ID tokens that BigQuery attaches
// to remote function calls when the Cloud Run service requires
// authentication.
package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Claims, error)
}

type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ TokenVerifier = &Verifier{}

func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	claims := &Claims{}

	err = token.Claims(claims)
	if err != nil {
		return nil, fmt.Errorf("reading id token claims: %w", err)
	}

	if claims.Subject == "" {
		claims.Subject = token.Subject
	}

	return claims, nil
}

func NewVerifier(issuer string, keySet oidc.KeySet, config *oidc.Config) *Verifier {
	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keySet, config),
	}
}

// NewGoogleVerifier accepts Google ID tokens minted for audience, which for
// Cloud Run is the service URL. Keys are fetched on first use.
func NewGoogleVerifier(ctx context.Context, audience string) *Verifier {
	return NewVerifier(GoogleIssuer, oidc.NewRemoteKeySet(ctx, GoogleJWKSURL), &oidc.Config{
		ClientID: audience,
	})
}
