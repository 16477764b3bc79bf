// Package entitlement parses and matches AARC-G002/G069 group entitlements.
//
// An entitlement names a group membership inside a federated namespace,
// optionally scoped to a role and signed off by a group authority:
//
//	urn:mace:egi.eu:group:fedcloud.egi.eu:ops:role=member#aai.egi.eu
//
// Matching is hierarchical: an entitlement for a subgroup satisfies a
// requirement for any of its ancestor groups, never the reverse.
package entitlement

import (
	"errors"
	"fmt"
	"strings"
)

const (
	groupToken = ":group:"
	roleToken  = ":role="
)

// ErrNotEntitlement indicates the string does not follow the AARC
// entitlement grammar. Callers typically fall back to plain string
// comparison for such values.
var ErrNotEntitlement = errors.New("entitlement: not an AARC entitlement")

// Entitlement is a parsed AARC entitlement. Two entitlements are only
// comparable when their namespaces are equal.
type Entitlement struct {
	// NamespaceID is everything before the ":group:" token, e.g.
	// "urn:mace:egi.eu".
	NamespaceID string

	// DelegatedNamespace is the authority part of the namespace, i.e. its
	// last colon-separated component ("egi.eu" above).
	DelegatedNamespace string

	// Group is the top-level group of the hierarchy path.
	Group string

	// Subgroups are the path components below Group, outermost first.
	Subgroups []string

	// Role is the optional role inside the group, "" if unscoped.
	Role string

	// GroupAuthority is the optional authority after "#", "" if absent.
	GroupAuthority string
}

// Parse parses raw according to the grammar
// "namespace:group:a:b:c:role=X#authority" (the role marker may also appear
// in the fragment as "#role=X@authority"). It returns ErrNotEntitlement when
// the mandatory ":group:" token is missing or a mandatory part is empty.
func Parse(raw string) (*Entitlement, error) {
	namespace, rest, found := strings.Cut(raw, groupToken)
	if !found || namespace == "" || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotEntitlement, raw)
	}

	e := &Entitlement{NamespaceID: namespace}
	nsParts := strings.Split(namespace, ":")
	e.DelegatedNamespace = nsParts[len(nsParts)-1]

	// The fragment is either the group authority or "role=X@authority".
	if groups, frag, ok := strings.Cut(rest, "#"); ok {
		rest = groups
		if role, found := strings.CutPrefix(frag, "role="); found {
			e.Role, e.GroupAuthority, _ = strings.Cut(role, "@")
		} else {
			e.GroupAuthority = frag
		}
	}

	if groups, role, ok := strings.Cut(rest, roleToken); ok {
		if role == "" || groups == "" {
			return nil, fmt.Errorf("%w: empty role or group: %q", ErrNotEntitlement, raw)
		}
		e.Role = role
		rest = groups
	}

	path := strings.Split(rest, ":")
	for _, p := range path {
		if p == "" {
			return nil, fmt.Errorf("%w: empty group component: %q", ErrNotEntitlement, raw)
		}
	}
	e.Group = path[0]
	e.Subgroups = path[1:]
	return e, nil
}

// Path returns the full group hierarchy path, starting at the top-level
// group.
func (e *Entitlement) Path() []string {
	return append([]string{e.Group}, e.Subgroups...)
}

// Satisfies reports whether the available entitlement e satisfies the
// required one. It does when the namespaces are equal and e's group path is
// equal to, or a descendant of, required's group path. A required role is
// only satisfied by the identical role on the identical group path; a
// subgroup membership never satisfies a role-qualified requirement on its
// parent.
func (e *Entitlement) Satisfies(required *Entitlement) bool {
	if e == nil || required == nil {
		return false
	}
	if e.NamespaceID != required.NamespaceID {
		return false
	}

	want, have := required.Path(), e.Path()
	if len(have) < len(want) {
		return false
	}
	for i := range want {
		if have[i] != want[i] {
			return false
		}
	}

	if required.Role == "" {
		return true
	}
	return len(have) == len(want) && e.Role == required.Role
}

// String reconstructs the canonical form of the entitlement.
func (e *Entitlement) String() string {
	var b strings.Builder
	b.WriteString(e.NamespaceID)
	b.WriteString(groupToken)
	b.WriteString(e.Group)
	for _, p := range e.Subgroups {
		b.WriteString(":")
		b.WriteString(p)
	}
	if e.Role != "" {
		b.WriteString(roleToken)
		b.WriteString(e.Role)
	}
	if e.GroupAuthority != "" {
		b.WriteString("#")
		b.WriteString(e.GroupAuthority)
	}
	return b.String()
}
