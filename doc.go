// Package tokengate authenticates OIDC bearer access tokens and authorizes
// callers against composable claim requirements, including hierarchical
// AARC group entitlements.
//
// Given a raw access token, an Authorizer determines which trusted OpenID
// provider issued it (via a fallback chain over the token's embedded
// issuer, a pinned issuer, a trusted provider list and an oidc-agent style
// issuer file), concurrently queries the candidates' userinfo endpoints,
// optionally introspects the token, and merges everything into a single
// read-only claim view. Caller-declared requirement trees are then
// evaluated against that view.
//
// Example:
//
//	authz, err := tokengate.New(tokengate.Config{
//	    TrustedOPs: []string{"https://login.example.org"},
//	})
//	if err != nil { log.Fatal(err) }
//	defer authz.Close()
//
//	req, _ := requirements.ForEntitlements(
//	    []string{"urn:mace:example.org:group:staff"},
//	    "eduperson_entitlement", requirements.MatchAll)
//
//	if err := authz.Require(ctx, bearerToken, req); err != nil {
//	    // errors.Is(err, tokengate.ErrUnauthenticated) -> 401
//	    // errors.Is(err, tokengate.ErrForbidden)       -> 403
//	}
//
// Tokens are never cryptographically verified: the engine trusts the
// issuer's userinfo endpoint to vouch for the token. Keep the trusted
// provider set tight.
package tokengate
