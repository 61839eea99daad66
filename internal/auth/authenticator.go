// backend/internal/auth/authenticator.go
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"challenge-system/internal/apperr"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgrijalva/jwt-go"
)

// ClockSkew is how far the issuer's clock may run ahead of or behind ours.
const ClockSkew = 5 * time.Second

// Authenticator resolves the calling user of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
	VerifyToken(token string) (string, error)
}

type Options struct {
	// JWTKey is the PEM encoded public key of the identity provider. When empty
	// the signing keys are loaded from the provider's JWKS endpoint.
	JWTKey            string
	SecretKey         string
	APIURL            string
	AuthorizedParties []string
	HTTPClient        *http.Client
}

// ClerkAuthenticator verifies RS256 session tokens issued by Clerk.
type ClerkAuthenticator struct {
	pemKey            *rsa.PublicKey
	keySet            *oidc.RemoteKeySet
	authorizedParties map[string]struct{}
	now               func() time.Time
}

func NewClerkAuthenticator(ctx context.Context, opts Options) (*ClerkAuthenticator, error) {
	a := &ClerkAuthenticator{
		authorizedParties: map[string]struct{}{},
		now:               time.Now,
	}
	for _, party := range opts.AuthorizedParties {
		if party = strings.TrimSpace(party); party != "" {
			a.authorizedParties[party] = struct{}{}
		}
	}

	if opts.JWTKey != "" {
		pem := strings.ReplaceAll(opts.JWTKey, `\n`, "\n")
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("parse jwt key: %w", err)
		}
		a.pemKey = key
		return a, nil
	}

	if opts.SecretKey == "" {
		return nil, errors.New("either a jwt key or a secret key is required")
	}
	a.keySet = NewJWKSKeySet(opts.HTTPClient, opts.APIURL, opts.SecretKey)
	return a, nil
}

// NewJWKSKeySet returns the signing keys of the instance identified by secretKey.
// Keys are cached and fetched again when a token names a key id not seen before,
// so rotations at the provider need no restart.
func NewJWKSKeySet(client *http.Client, apiURL, secretKey string) *oidc.RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if apiURL == "" {
		apiURL = "https://api.clerk.com"
	}

	authed := *client
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	authed.Transport = &bearerTransport{secret: secretKey, base: base}

	// The key set outlives any single request, so it gets a background context.
	ctx := oidc.ClientContext(context.Background(), &authed)
	return oidc.NewRemoteKeySet(ctx, strings.TrimRight(apiURL, "/")+"/v1/jwks")
}

type bearerTransport struct {
	secret string
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.secret)
	return t.base.RoundTrip(req)
}

func (a *ClerkAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return "", err
	}
	return a.verify(r.Context(), token)
}

func (a *ClerkAuthenticator) VerifyToken(tokenString string) (string, error) {
	return a.verify(context.Background(), tokenString)
}

func (a *ClerkAuthenticator) verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := a.parse(ctx, tokenString)
	if err != nil {
		return "", apperr.Unauthorized("invalid token", err)
	}
	if err := a.validateTimes(claims); err != nil {
		return "", apperr.Unauthorized("invalid token", err)
	}

	if azp, ok := claims["azp"].(string); ok && azp != "" && len(a.authorizedParties) > 0 {
		if _, allowed := a.authorizedParties[azp]; !allowed {
			return "", apperr.Unauthorized("token issued for an unauthorized party", nil)
		}
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", apperr.Unauthorized("token has no subject", nil)
	}
	return userID, nil
}

// parse checks the signature and decodes the claims. Time based claims are left
// to validateTimes.
func (a *ClerkAuthenticator) parse(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	parser := &jwt.Parser{SkipClaimsValidation: true}
	claims := jwt.MapClaims{}

	if a.pemKey != nil {
		_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return a.pemKey, nil
		})
		if err != nil {
			return nil, err
		}
		return claims, nil
	}

	token, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, err
	}
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	if _, err := a.keySet.VerifySignature(ctx, tokenString); err != nil {
		return nil, err
	}
	return claims, nil
}

func (a *ClerkAuthenticator) validateTimes(claims jwt.MapClaims) error {
	now := a.now().Unix()
	skew := int64(ClockSkew / time.Second)

	if !claims.VerifyExpiresAt(now-skew, true) {
		return errors.New("token is expired")
	}
	if !claims.VerifyNotBefore(now+skew, false) {
		return errors.New("token is not valid yet")
	}
	if !claims.VerifyIssuedAt(now+skew, false) {
		return errors.New("token used before issued")
	}
	return nil
}

func tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", apperr.Unauthorized("invalid authorization header format", nil)
		}
		return strings.TrimSpace(parts[1]), nil
	}

	// Same-origin browser requests carry the session in a cookie instead.
	if cookie, err := r.Cookie("__session"); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", apperr.Unauthorized("authorization header required", nil)
}
