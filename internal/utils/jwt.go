package utils // package utils provides helpers for token creation, verification and hashing

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// accessType is the value of the "type" claim on every access token.  Any
// other signed artifact presented as an access token is rejected.
const accessType = "access"

var (
	// ErrTokenExpired is returned by Verify for a well-formed, correctly
	// signed token whose exp has passed.  Callers must treat it exactly like
	// ErrTokenInvalid; it exists so the distinction can be logged.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers every other rejection: bad encoding, wrong
	// algorithm, signature mismatch, wrong issuer or wrong type.
	ErrTokenInvalid = errors.New("access token invalid")
)

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp as a time.Time.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// AccessClaims are the claims carried by an access token.  Subject, issuer
// and the timestamps live in the embedded registered claims.
type AccessClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// AccessCodec issues and verifies HS256 access tokens.  The secret is fixed
// at construction and never changes for the life of the process.
type AccessCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAccessCodec returns a codec signing with secret.  ttl is the lifetime
// of every token it issues.
func NewAccessCodec(secret, issuer string, ttl time.Duration) *AccessCodec {
	return &AccessCodec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the codec that reads the current time from
// now.  Tests use it to move past expiry without sleeping.
func (c *AccessCodec) WithClock(now func() time.Time) *AccessCodec {
	cp := *c
	cp.now = now
	return &cp
}

// TTL reports the lifetime of issued tokens.
func (c *AccessCodec) TTL() time.Duration { return c.ttl }

// Issue builds and signs an access token for subject.  The token carries
// sub, role, email, iss, iat, exp = iat + ttl and type "access".
func (c *AccessCodec) Issue(subject, role, email string) (AccessToken, error) {
	// JWT timestamps have second precision; truncate so Exp matches the claim.
	iat := c.now().UTC().Truncate(time.Second)
	exp := iat.Add(c.ttl)
	claims := AccessClaims{
		Role:  role,
		Email: email,
		Type:  accessType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Verify parses raw and returns its claims when the token is well formed,
// HMAC signed with our secret, issued by us, of type "access" and not yet
// expired.  An expiry exactly equal to now is already expired.
func (c *AccessCodec) Verify(raw string) (*AccessClaims, error) {
	now := c.now().UTC()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
	)

	claims := &AccessClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Type assert the signing method to HMAC; reject others.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return c.secret, nil
	})
	switch {
	case err == nil && tok.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}

	if claims.Type != accessType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
