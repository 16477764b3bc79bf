// Package requirements implements the policy language evaluated against a
// user's merged claims: boolean combinators (AllOf, OneOf, NOf) over leaf
// predicates, of which HasClaim and its AARC entitlement specialization are
// the workhorses.
//
// Evaluation is pure: the same requirement tree applied to the same
// UserInfos always yields the same CheckResult, and nothing is mutated.
package requirements

import (
	"fmt"
	"strings"

	"github.com/vo-tools/tokengate/userinfo"
)

// CheckResult is the outcome of evaluating a requirement: a decision plus a
// human-readable diagnostic for the failure (or success) reason.
type CheckResult struct {
	Satisfied bool
	Message   string
}

// Requirement is a node of the policy tree.
type Requirement interface {
	SatisfiedBy(infos *userinfo.UserInfos) CheckResult
}

// Satisfied is always satisfied.
type Satisfied struct{}

func (Satisfied) SatisfiedBy(*userinfo.UserInfos) CheckResult {
	return CheckResult{Satisfied: true, Message: "requirement is always satisfied"}
}

// Unsatisfiable is never satisfied.
type Unsatisfiable struct{}

func (Unsatisfiable) SatisfiedBy(*userinfo.UserInfos) CheckResult {
	return CheckResult{Satisfied: false, Message: "requirement is unsatisfiable"}
}

// IsTrue is satisfied when the predicate evaluates to true. Name appears in
// diagnostics.
type IsTrue struct {
	Name string
	Func func(*userinfo.UserInfos) bool
}

func (r IsTrue) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	return CheckResult{
		Satisfied: r.Func(infos),
		Message:   fmt.Sprintf("evaluation of %s", r.Name),
	}
}

// HasSubjectAndIssuer is satisfied when an identity was established, i.e.
// the user has both a subject and an issuer.
type HasSubjectAndIssuer struct{}

func (HasSubjectAndIssuer) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	if infos == nil {
		return CheckResult{Satisfied: false, Message: "no user infos available"}
	}
	if sub, iss := infos.Subject(), infos.Issuer(); sub != "" && iss != "" {
		return CheckResult{Satisfied: true, Message: fmt.Sprintf("valid user: %s @ %s", sub, iss)}
	}
	return CheckResult{Satisfied: false, Message: "user infos have no subject or issuer"}
}

// AllOf is satisfied when every child requirement is satisfied.
type AllOf struct {
	Requirements []Requirement
}

// All builds an AllOf over the given children.
func All(reqs ...Requirement) *AllOf { return &AllOf{Requirements: reqs} }

// Add appends a child requirement.
func (r *AllOf) Add(req Requirement) { r.Requirements = append(r.Requirements, req) }

func (r *AllOf) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	failed := evalChildren(r.Requirements, infos)
	if len(failed) > 0 {
		return CheckResult{Satisfied: false, Message: "unsatisfied sub-requirements: " + strings.Join(failed, "; ")}
	}
	return CheckResult{Satisfied: true, Message: "all sub-requirements are satisfied"}
}

// OneOf is satisfied when at least one child requirement is satisfied.
type OneOf struct {
	Requirements []Requirement
}

// One builds a OneOf over the given children.
func One(reqs ...Requirement) *OneOf { return &OneOf{Requirements: reqs} }

// Add appends a child requirement.
func (r *OneOf) Add(req Requirement) { r.Requirements = append(r.Requirements, req) }

func (r *OneOf) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	failed := evalChildren(r.Requirements, infos)
	if len(failed) == len(r.Requirements) {
		return CheckResult{Satisfied: false, Message: "no sub-requirement is satisfied: " + strings.Join(failed, "; ")}
	}
	return CheckResult{Satisfied: true, Message: "at least one sub-requirement is satisfied"}
}

// NOf is satisfied when at least N child requirements are satisfied. Every
// child is evaluated so the diagnostics are complete; there is no
// short-circuiting.
type NOf struct {
	N            int
	Requirements []Requirement
}

// AtLeast builds an NOf requiring n of the given children.
func AtLeast(n int, reqs ...Requirement) *NOf { return &NOf{N: n, Requirements: reqs} }

// Add appends a child requirement.
func (r *NOf) Add(req Requirement) { r.Requirements = append(r.Requirements, req) }

func (r *NOf) SatisfiedBy(infos *userinfo.UserInfos) CheckResult {
	failed := evalChildren(r.Requirements, infos)
	got := len(r.Requirements) - len(failed)
	if got >= r.N {
		return CheckResult{Satisfied: true, Message: fmt.Sprintf("%d of %d required sub-requirements are satisfied", got, r.N)}
	}
	return CheckResult{
		Satisfied: false,
		Message:   fmt.Sprintf("only %d of %d required sub-requirements are satisfied: %s", got, r.N, strings.Join(failed, "; ")),
	}
}

func evalChildren(reqs []Requirement, infos *userinfo.UserInfos) (failed []string) {
	for _, req := range reqs {
		if res := req.SatisfiedBy(infos); !res.Satisfied {
			failed = append(failed, res.Message)
		}
	}
	return failed
}
