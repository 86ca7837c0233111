// Signing keys are fetched from https://{auth_domain}/.well-known/jwks.json, refreshed hourly, and refreshed early
// when a token names a key id the set doesn't hold yet. Early refreshes are rate limited so a flood of tokens with
// made-up key ids can't hammer the identity provider.

package auth

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"golang.org/x/time/rate"
)

var (
	authDomain   = flag.String("auth_domain", "", "Identity provider domain issuing bearer tokens, e.g. tenant.auth0.com.")
	authAudience = flag.String("auth_audience", "", "Audience bearer tokens must be issued for.")
	jwksRequestsPerMinute = flag.Int("jwks_requests_per_minute", 5,
		"Maximum JWKS refreshes per minute triggered by tokens signed with unknown key ids.")
)

// Issuer returns the token issuer of an identity domain.
func Issuer(domain string) string {
	return "https://" + domain + "/"
}

// JWKSURL returns the signing key set location of an identity domain.
func JWKSURL(domain string) string {
	return "https://" + domain + "/.well-known/jwks.json"
}

// NewJWKSKeyfunc resolves signing keys from the JWKS at `jwksURL`. Refreshes for unknown key ids are limited to
// `requestsPerMinute`. The background refresh stops with `ctx`.
func NewJWKSKeyfunc(ctx context.Context, jwksURL string, requestsPerMinute int) (keyfunc.Keyfunc, error) {
	remote, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true, // The identity provider being down must not keep the server from starting.
		RefreshErrorHandler: func(ctx context.Context, err error) {
			slog.ErrorContext(ctx, "Failed to refresh the JWKS.", "url", jwksURL, "error", err)
		},
		RefreshInterval: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS storage: %w", err)
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{jwksURL: remote},
		RateLimitWaitMax:  time.Minute,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}
	return keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: client})
}

// NewValidatorFromFlags builds the Validator of --auth_domain and --auth_audience.
func NewValidatorFromFlags(ctx context.Context) (*Validator, error) {
	if *authDomain == "" || *authAudience == "" {
		return nil, errors.New("--auth_domain and --auth_audience are required by the multi-tenant API")
	}
	keys, err := NewJWKSKeyfunc(ctx, JWKSURL(*authDomain), *jwksRequestsPerMinute)
	if err != nil {
		return nil, err
	}
	slog.Info("Bearer token validation configured.", "issuer", Issuer(*authDomain), "audience", *authAudience)
	return NewValidator(keys.Keyfunc, *authAudience, Issuer(*authDomain)), nil
}
