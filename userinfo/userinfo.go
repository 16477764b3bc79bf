// Package userinfo assembles the merged identity view for one access token:
// the claims embedded in the token, the claims returned by the issuer's
// userinfo endpoint and, when client credentials are configured, the
// introspection response.
package userinfo

import (
	"maps"
	"time"

	"github.com/vo-tools/tokengate/issuers"
	"github.com/vo-tools/tokengate/tokens"
)

// Source names a claim source for lookup precedence.
type Source string

const (
	SourceUserInfo      Source = "userinfo"
	SourceAccessToken   Source = "access_token"
	SourceIntrospection Source = "introspection"
)

// DefaultPrecedence consults the userinfo endpoint before the token body.
var DefaultPrecedence = []Source{SourceUserInfo, SourceAccessToken}

// UserInfos is the read-only merged result for one token. Build it with New
// and do not mutate it afterwards.
type UserInfos struct {
	AccessTokenInfo   *tokens.AccessTokenInfo
	UserInfo          map[string]any
	IntrospectionInfo map[string]any

	issuer     string
	validFor   time.Duration
	precedence []Source
	override   []any
}

// Option customizes a UserInfos during construction.
type Option func(*UserInfos)

// WithPrecedence sets the claim search precedence used by Get.
func WithPrecedence(precedence []Source) Option {
	return func(u *UserInfos) {
		if len(precedence) > 0 {
			u.precedence = precedence
		}
	}
}

// WithIssuer records the issuer the identity was established against.
func WithIssuer(issuer string) Option {
	return func(u *UserInfos) { u.issuer = issuers.Normalize(issuer) }
}

// WithClaimOverride substitutes the given entries for every claim lookup of
// requirement checks. Test environments only.
func WithClaimOverride(entries []any) Option {
	return func(u *UserInfos) { u.override = entries }
}

// New builds the merged view. Any of the three sources may be nil.
func New(at *tokens.AccessTokenInfo, userInfo, introspection map[string]any, opts ...Option) *UserInfos {
	u := &UserInfos{
		AccessTokenInfo:   at,
		UserInfo:          userInfo,
		IntrospectionInfo: introspection,
		precedence:        DefaultPrecedence,
	}
	if tl, ok := at.TimeLeft(time.Now()); ok {
		u.validFor = tl
	}
	if u.issuer == "" {
		u.issuer = issuers.Normalize(at.Issuer())
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Get looks the claim up in the configured source precedence.
func (u *UserInfos) Get(claim string) (any, bool) {
	for _, src := range u.precedence {
		var m map[string]any
		switch src {
		case SourceUserInfo:
			m = u.UserInfo
		case SourceAccessToken:
			if u.AccessTokenInfo != nil {
				m = u.AccessTokenInfo.Body
			}
		case SourceIntrospection:
			m = u.IntrospectionInfo
		}
		if v, ok := m[claim]; ok {
			return v, true
		}
	}
	return nil, false
}

// Subject returns the authenticated subject, falling back to the
// introspection response when the precedence sources do not carry "sub".
func (u *UserInfos) Subject() string {
	if v, ok := u.Get("sub"); ok {
		if sub, ok := v.(string); ok {
			return sub
		}
	}
	sub, _ := u.IntrospectionInfo["sub"].(string)
	return sub
}

// Issuer returns the normalized issuer the identity belongs to.
func (u *UserInfos) Issuer() string {
	return u.issuer
}

// ValidFor returns the remaining token lifetime at construction time. Zero
// when the token carried no expiry.
func (u *UserInfos) ValidFor() time.Duration {
	return u.validFor
}

// ClaimOverride returns the substitute claim entries, if any were injected.
func (u *UserInfos) ClaimOverride() ([]any, bool) {
	return u.override, u.override != nil
}

// AllClaims merges all sources key-by-key; userinfo overwrites the token
// body, introspection overwrites both.
func (u *UserInfos) AllClaims() map[string]any {
	var body map[string]any
	if u.AccessTokenInfo != nil {
		body = u.AccessTokenInfo.Body
	}
	return Merge(body, u.UserInfo, u.IntrospectionInfo)
}

// Merge shallow-merges claim maps; later maps win key-by-key. The result is
// empty when every source is absent.
func Merge(claimMaps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range claimMaps {
		maps.Copy(merged, m)
	}
	return merged
}
