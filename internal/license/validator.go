// Package license validates signed license tokens for registry- and
// pack-sourced constructs.
package license

import (
	"context"
	"crypto/rsa"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// SigningAlgorithm is the only accepted token algorithm. A token declaring
// anything else is invalid before any key lookup happens, so a forged header
// can never downgrade verification to a weaker scheme.
const SigningAlgorithm = "RS256"

// KeyResolver resolves a key identifier to an RSA public key. The key cache
// satisfies this; tests inject fakes.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (*rsa.PublicKey, error)
}

// Claims is the payload carried by a license token.
type Claims struct {
	Tier  Tier     `json:"tier"`
	Scope []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo is a decoded, unverified view of a token for display purposes.
type TokenInfo struct {
	KeyID     string    `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	Subject   string    `json:"subject"`
	Tier      Tier      `json:"tier"`
	Scope     []string  `json:"scope,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validator computes validation states for license tokens. Validation is a
// pure function of the token, the resolved key, and the reference instant;
// the only side effect is the key cache's own fetch path.
type Validator struct {
	keys   KeyResolver
	parser *jwt.Parser
	logger zerolog.Logger
}

// NewValidator creates a validator backed by the given key resolver.
func NewValidator(keys KeyResolver, logger zerolog.Logger) *Validator {
	return &Validator{
		keys:   keys,
		parser: jwt.NewParser(),
		logger: logger.With().Str("component", "license_validator").Logger(),
	}
}

// Validate computes the validation state of a raw token as of the given
// instant. The checks run in strict order: presence, algorithm, key
// resolution, signature, then expiry against the tier grace window.
//
// A future-dated issued_at is deliberately not rejected; only the expiry
// logic applies.
func (v *Validator) Validate(ctx context.Context, raw string, asOf time.Time) State {
	if raw == "" {
		return Missing()
	}

	claims := &Claims{}
	token, parts, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		// The parser rejects unregistered algorithms before anything
		// else; report those as an algorithm problem, not a parse one.
		if token != nil {
			if alg, ok := token.Header["alg"].(string); ok && alg != SigningAlgorithm {
				return Invalid("unsupported or unexpected algorithm")
			}
		}
		return Invalid("malformed token")
	}

	alg, _ := token.Header["alg"].(string)
	if alg != SigningAlgorithm {
		return Invalid("unsupported or unexpected algorithm")
	}

	keyID, _ := token.Header["kid"].(string)
	key, err := v.keys.ResolveKey(ctx, keyID)
	if err != nil {
		v.logger.Warn().Err(err).Str("key_id", keyID).Msg("public key resolution failed")
		return ErrorState("key unavailable")
	}

	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return Invalid("malformed token")
	}
	if err := jwt.SigningMethodRS256.Verify(strings.Join(parts[:2], "."), sig, key); err != nil {
		return Invalid("signature mismatch")
	}

	if claims.ExpiresAt == nil {
		return Invalid("missing expiry claim")
	}

	// Boundaries are inclusive on both ends: exactly at expiry is still
	// valid, exactly at the end of grace is still grace. All comparisons
	// in UTC.
	expiresAt := claims.ExpiresAt.Time.UTC()
	asOf = asOf.UTC()
	graceEnd := expiresAt.Add(claims.Tier.GracePeriod())

	switch {
	case !asOf.After(expiresAt):
		return Valid()
	case !asOf.After(graceEnd):
		return Grace(graceEnd.Sub(asOf))
	default:
		return Expired()
	}
}

// Inspect decodes a token without verifying it, for display in tooling.
// The returned info must never be used to make an admission decision.
func (v *Validator) Inspect(raw string) (*TokenInfo, error) {
	claims := &Claims{}
	token, _, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{
		Subject: claims.Subject,
		Tier:    claims.Tier,
		Scope:   claims.Scope,
	}
	info.KeyID, _ = token.Header["kid"].(string)
	info.Algorithm, _ = token.Header["alg"].(string)
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return info, nil
}
