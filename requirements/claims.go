package requirements

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/vo-tools/tokengate/entitlement"
	"github.com/vo-tools/tokengate/userinfo"
)

// MatchStrategy turns raw claim entries into comparable values and decides
// whether an available entry satisfies a required one.
type MatchStrategy interface {
	Parse(raw any) (any, error)
	Matches(required, available any) bool
}

// Equality compares claim entries verbatim.
type Equality struct{}

func (Equality) Parse(raw any) (any, error) { return raw, nil }

func (Equality) Matches(required, available any) bool {
	return reflect.DeepEqual(required, available)
}

// AARCEntitlement compares claim entries as hierarchical AARC entitlements:
// an available subgroup or role membership satisfies a required ancestor
// group.
type AARCEntitlement struct{}

func (AARCEntitlement) Parse(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("requirements: entitlement entry is not a string: %v", raw)
	}
	return entitlement.Parse(s)
}

func (AARCEntitlement) Matches(required, available any) bool {
	req, ok := required.(*entitlement.Entitlement)
	if !ok {
		return false
	}
	avail, ok := available.(*entitlement.Entitlement)
	if !ok {
		return false
	}
	return avail.Satisfies(req)
}

// HasClaim is satisfied when the named list-valued claim contains an entry
// matching the required value under the configured strategy. When the
// required value itself does not parse under the strategy, the check falls
// back to plain equality, so non-AARC group names remain comparable.
type HasClaim struct {
	claim    string
	raw      any
	required any
	strategy MatchStrategy
	parses   bool
}

// NewHasClaim builds an equality check for the claim.
func NewHasClaim(required any, claim string) *HasClaim {
	return NewStrategyClaim(required, claim, Equality{})
}

// NewHasAARCEntitlement builds a hierarchical AARC entitlement check for
// the claim.
func NewHasAARCEntitlement(required string, claim string) *HasClaim {
	return NewStrategyClaim(required, claim, AARCEntitlement{})
}

// NewStrategyClaim builds a claim check with an explicit strategy.
func NewStrategyClaim(required any, claim string, strategy MatchStrategy) *HasClaim {
	h := &HasClaim{claim: claim, raw: required, strategy: strategy, parses: true}
	parsed, err := strategy.Parse(required)
	if err != nil {
		h.parses = false
		parsed = required
	}
	h.required = parsed
	return h
}

func (h *HasClaim) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	if infos == nil {
		return CheckResult{Satisfied: false, Message: "no user infos available"}
	}

	entries, overridden := infos.ClaimOverride()
	if !overridden {
		value, ok := infos.Get(h.claim)
		if !ok {
			return CheckResult{Satisfied: false, Message: fmt.Sprintf("claim %q is not available", h.claim)}
		}
		entries, ok = toList(value)
		if !ok {
			return CheckResult{Satisfied: false, Message: fmt.Sprintf("claim %q is not a list-valued claim", h.claim)}
		}
	}

	for _, entry := range entries {
		if h.matches(entry) {
			return CheckResult{
				Satisfied: true,
				Message:   fmt.Sprintf("match for the required value %v of claim %q: %v", h.raw, h.claim, entry),
			}
		}
	}
	return CheckResult{
		Satisfied: false,
		Message:   fmt.Sprintf("no match for the required value %v of claim %q", h.raw, h.claim),
	}
}

func (h *HasClaim) matches(entry any) bool {
	if !h.parses {
		return reflect.DeepEqual(h.raw, entry)
	}
	available, err := h.strategy.Parse(entry)
	if err != nil {
		// Unparseable available entries can still match verbatim.
		return reflect.DeepEqual(h.raw, entry)
	}
	return h.strategy.Matches(h.required, available)
}

func toList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		entries := make([]any, len(v))
		for i, s := range v {
			entries[i] = s
		}
		return entries, true
	}
	return nil, false
}

// Mode selects how many of the required values of ForClaim must find a
// match: "all", "one" or a decimal count.
type Mode string

const (
	MatchAll Mode = "all"
	MatchOne Mode = "one"
)

// MatchN requires at least n of the required values to match.
func MatchN(n int) Mode { return Mode(strconv.Itoa(n)) }

func (m Mode) meta() (interface {
	Requirement
	Add(Requirement)
}, error) {
	switch m {
	case MatchAll:
		return &AllOf{}, nil
	case MatchOne:
		return &OneOf{}, nil
	}
	n, err := strconv.Atoi(string(m))
	if err != nil {
		return nil, fmt.Errorf("requirements: mode must be %q, %q or a number, got %q", MatchAll, MatchOne, m)
	}
	return &NOf{N: n}, nil
}

// ForClaim builds a requirement over several required values of one claim,
// combined according to mode, using the given strategy for each value.
func ForClaim(required []string, claim string, mode Mode, strategy MatchStrategy) (Requirement, error) {
	meta, err := mode.meta()
	if err != nil {
		return nil, err
	}
	for _, value := range required {
		meta.Add(NewStrategyClaim(value, claim, strategy))
	}
	return meta, nil
}

// ForEntitlements is ForClaim with the AARC entitlement strategy, covering
// both plain group names and AARC entitlements.
func ForEntitlements(required []string, claim string, mode Mode) (Requirement, error) {
	return ForClaim(required, claim, mode, AARCEntitlement{})
}
