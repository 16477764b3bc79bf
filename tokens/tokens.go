// Package tokens provides a structured, unverified view of JWT access
// tokens. Nothing in this package checks signatures; the decoded claims are
// only trustworthy to the extent the caller trusts the issuer that is later
// resolved for the token.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT indicates the access token is not a decodable three-segment JWT.
// Opaque access tokens are common and valid; callers should treat this as
// "no embedded claims" rather than a failure.
var ErrNotJWT = errors.New("tokens: access token is not a JWT")

// AccessTokenInfo is the decoded view of a JWT access token: header, body
// and the raw signature segment. It is immutable once built and never
// cryptographically verified.
type AccessTokenInfo struct {
	Header    map[string]any
	Body      map[string]any
	Signature string
}

// Decode splits a compact JWT on "." and base64url-decodes the header and
// body segments. It returns ErrNotJWT for anything that does not decode.
func Decode(accessToken string) (*AccessTokenInfo, error) {
	parser := jwt.NewParser()
	tok, parts, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrNotJWT
	}
	return &AccessTokenInfo{
		Header:    tok.Header,
		Body:      map[string]any(claims),
		Signature: parts[2],
	}, nil
}

// Issuer returns the embedded "iss" claim, or "" if absent.
func (i *AccessTokenInfo) Issuer() string {
	if i == nil {
		return ""
	}
	iss, _ := i.Body["iss"].(string)
	return iss
}

// Subject returns the embedded "sub" claim, or "" if absent.
func (i *AccessTokenInfo) Subject() string {
	if i == nil {
		return ""
	}
	sub, _ := i.Body["sub"].(string)
	return sub
}

// Expiry returns the "exp" claim as a time. The second return is false when
// the token carries no (or a malformed) expiry.
func (i *AccessTokenInfo) Expiry() (time.Time, bool) {
	if i == nil {
		return time.Time{}, false
	}
	switch exp := i.Body["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	case json.Number:
		n, err := exp.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

// TimeLeft returns how long the token remains valid at the given instant.
// A negative duration means the token is expired. The second return is false
// when the token carries no expiry.
func (i *AccessTokenInfo) TimeLeft(now time.Time) (time.Duration, bool) {
	exp, ok := i.Expiry()
	if !ok {
		return 0, false
	}
	return exp.Sub(now), true
}
