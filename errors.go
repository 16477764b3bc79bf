package tokengate

import "errors"

// ErrUnauthenticated indicates the caller's identity could not be
// established: no token, an unresolvable issuer, or an issuer outside the
// trusted set. Maps to HTTP 401 at the boundary.
var ErrUnauthenticated = errors.New("tokengate: unauthenticated")

// ErrUnauthorized indicates an identity was nominally present but its data
// is unusable: the token is expired or no issuer candidate produced a
// userinfo within the time budget. Maps to HTTP 401/403 at the boundary.
var ErrUnauthorized = errors.New("tokengate: unauthorized")

// ErrForbidden indicates the identity is fine but the caller-declared
// requirement is not satisfied. Maps to HTTP 403 at the boundary.
var ErrForbidden = errors.New("tokengate: forbidden")
