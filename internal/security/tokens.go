// Package security holds the token authority, credential hashing, and key
// handling for the control plane. Token validation is pure (no I/O); the
// revocation blacklist and token-version checks compose on top in Authority.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InvalidReason classifies why a token failed validation. Each reason maps to
// a distinct client action: Expired → attempt silent refresh; Revoked and
// VersionMismatch → force re-authentication.
type InvalidReason string

const (
	ReasonExpired          InvalidReason = "expired"
	ReasonInvalidSignature InvalidReason = "invalid_signature"
	ReasonInvalidFormat    InvalidReason = "invalid_format"
	ReasonRevoked          InvalidReason = "revoked"
	ReasonIssuerMismatch   InvalidReason = "issuer_mismatch"
	ReasonAudienceMismatch InvalidReason = "audience_mismatch"
	ReasonVersionMismatch  InvalidReason = "version_mismatch"
	ReasonMissingClaims    InvalidReason = "missing_claims"
)

// ValidationError carries the typed reason for a failed validation.
type ValidationError struct {
	Reason InvalidReason
}

func (e *ValidationError) Error() string { return fmt.Sprintf("token invalid: %s", e.Reason) }

// ReasonOf returns the InvalidReason if err is a *ValidationError, "" otherwise.
func ReasonOf(err error) InvalidReason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

func invalid(reason InvalidReason) error { return &ValidationError{Reason: reason} }

// adminClaims is the claim set shared by access and refresh tokens: the
// registered claims plus the admin's username and the token-version counter
// that enables O(1) bulk revocation.
type adminClaims struct {
	jwt.RegisteredClaims
	Username     string `json:"username"`
	TokenVersion int64  `json:"token_version"`
	TokenUse     string `json:"token_use"`
}

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Claims is the validated content of a bearer token.
type Claims struct {
	AdminID      string
	Username     string
	JTI          string
	TokenVersion int64
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// TokenProvider signs and verifies bearer tokens with RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a provider signing with privateKey. issuer and
// audience scope every issued token and are enforced on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock, for expiry tests.
func (p *TokenProvider) SetNow(nowF func() time.Time) { p.nowF = nowF }

// AccessTTL returns the configured access-token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access token for the identity at the given
// token version. Returns the signed token, its jti, and expiry.
func (p *TokenProvider) IssueAccess(adminID, username string, tokenVersion int64) (token, jti string, expiresAt time.Time, err error) {
	return p.issue(adminID, username, tokenVersion, tokenUseAccess, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh token. The caller records the jti
// on the identity so rotation can detect reuse.
func (p *TokenProvider) IssueRefresh(adminID, username string, tokenVersion int64) (token, jti string, expiresAt time.Time, err error) {
	return p.issue(adminID, username, tokenVersion, tokenUseRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(adminID, username string, tokenVersion int64, use string, ttl time.Duration) (string, string, time.Time, error) {
	jti, err := newJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt := now.Add(ttl)
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   adminID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:     username,
		TokenVersion: tokenVersion,
		TokenUse:     use,
	}
	token, err := p.sign(claims)
	return token, jti, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", invalid(ReasonInvalidFormat)
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// ValidateAccess verifies the signature, format, expiry, issuer, and audience
// of an access token. Pure claim and signature checks only; returns a
// *ValidationError with a typed reason on failure.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, tokenUseAccess)
}

// ValidateRefresh is ValidateAccess for refresh tokens.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, tokenUseRefresh)
}

func (p *TokenProvider) validate(tokenString, wantUse string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, invalid(ReasonInvalidFormat)
	}, jwt.WithTimeFunc(func() time.Time { return p.nowF() }))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, invalid(ReasonExpired)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, invalid(ReasonInvalidSignature)
		default:
			return nil, invalid(ReasonInvalidFormat)
		}
	}
	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid {
		return nil, invalid(ReasonInvalidFormat)
	}
	if claims.Issuer != p.issuer {
		return nil, invalid(ReasonIssuerMismatch)
	}
	if !hasAudience(claims.Audience, p.audience) {
		return nil, invalid(ReasonAudienceMismatch)
	}
	if claims.Subject == "" || claims.Username == "" || claims.ID == "" || claims.TokenUse != wantUse {
		return nil, invalid(ReasonMissingClaims)
	}
	out := &Claims{
		AdminID:      claims.Subject,
		Username:     claims.Username,
		JTI:          claims.ID,
		TokenVersion: claims.TokenVersion,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
