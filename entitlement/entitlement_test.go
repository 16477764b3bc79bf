package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	e, err := Parse("urn:mace:egi.eu:group:fedcloud.egi.eu:ops:role=member#aai.egi.eu")
	require.NoError(t, err)
	assert.Equal(t, "urn:mace:egi.eu", e.NamespaceID)
	assert.Equal(t, "egi.eu", e.DelegatedNamespace)
	assert.Equal(t, "fedcloud.egi.eu", e.Group)
	assert.Equal(t, []string{"ops"}, e.Subgroups)
	assert.Equal(t, "member", e.Role)
	assert.Equal(t, "aai.egi.eu", e.GroupAuthority)
}

func TestParseRoleInFragment(t *testing.T) {
	e, err := Parse("urn:mace:egi.eu:group:vo#role=admin@aai.egi.eu")
	require.NoError(t, err)
	assert.Equal(t, "vo", e.Group)
	assert.Empty(t, e.Subgroups)
	assert.Equal(t, "admin", e.Role)
	assert.Equal(t, "aai.egi.eu", e.GroupAuthority)
}

func TestParseNoRoleNoAuthority(t *testing.T) {
	e, err := Parse("ns:group:a:b:c")
	require.NoError(t, err)
	assert.Equal(t, "ns", e.NamespaceID)
	assert.Equal(t, "a", e.Group)
	assert.Equal(t, []string{"b", "c"}, e.Subgroups)
	assert.Empty(t, e.Role)
	assert.Empty(t, e.GroupAuthority)
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"justagroupname",
		"ns:group:",
		":group:a",
		"ns:group:a::b",
		"ns:group:a:role=",
	} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrNotEntitlement, "raw=%q", raw)
	}
}

func TestSatisfiesHierarchy(t *testing.T) {
	cases := []struct {
		required  string
		available string
		want      bool
	}{
		// Subgroup membership satisfies an ancestor requirement, never the
		// reverse.
		{"ns:group:a", "ns:group:a", true},
		{"ns:group:a", "ns:group:a:b", true},
		{"ns:group:a:b", "ns:group:a:b:c", true},
		{"ns:group:a:b", "ns:group:a", false},
		{"ns:group:a:b:c", "ns:group:a:b", false},
		{"ns:group:a", "ns:group:b", false},
		{"ns:group:a:b", "ns:group:a:c", false},

		// Namespace mismatches never match.
		{"ns1:group:a", "ns2:group:a", false},
		{"urn:mace:egi.eu:group:a", "urn:mace:kit.edu:group:a", false},

		// Roles only compare at identical depth.
		{"ns:group:a:role=admin", "ns:group:a:role=admin", true},
		{"ns:group:a:role=admin", "ns:group:a:role=member", false},
		{"ns:group:a:role=admin", "ns:group:a", false},
		{"ns:group:a:role=admin", "ns:group:a:b:role=admin", false},
		{"ns:group:a", "ns:group:a:role=admin", true},

		// Group authorities do not take part in matching.
		{"ns:group:a", "ns:group:a#other.authority", true},
	}
	for _, tc := range cases {
		required, err := Parse(tc.required)
		require.NoError(t, err)
		available, err := Parse(tc.available)
		require.NoError(t, err)
		assert.Equal(t, tc.want, available.Satisfies(required),
			"required=%q available=%q", tc.required, tc.available)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"ns:group:a",
		"ns:group:a:b:c",
		"urn:mace:egi.eu:group:vo:ops:role=member#aai.egi.eu",
	} {
		e, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, e.String())
	}
}
