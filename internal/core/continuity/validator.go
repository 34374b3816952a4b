// Package continuity checks that a newly retrieved guide node is a sensible
// successor of the node the conversation is anchored on.
package continuity

import (
	"strings"

	"github.com/agenthands/tsgcopilot/internal/core/model"
)

// Token is the transition hint attached by the router to a retrieval request.
type Token string

const (
	Continue Token = "CONTINUE"
	Cross    Token = "CROSS"
	Mitigate Token = "MITIGATE"
)

// ParseToken accepts bracketed or bare forms such as "[CROSS]". Unknown
// or empty input defaults to Continue.
func ParseToken(s string) Token {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, string(Mitigate)):
		return Mitigate
	case strings.Contains(upper, string(Cross)):
		return Cross
	}
	return Continue
}

// Verdict classifies the outcome of a validation.
type Verdict int

const (
	Accepted Verdict = iota
	Resolved
	InconsistentContinue
	InconsistentCross
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Resolved:
		return "resolved"
	case InconsistentContinue:
		return "inconsistent_continue"
	case InconsistentCross:
		return "inconsistent_cross"
	}
	return "unknown"
}

// Result carries the accepted node, if any.
type Result struct {
	Verdict Verdict
	Node    *model.Node
}

func (r Result) Accepted() bool { return r.Verdict == Accepted }

// Validator owns the conversation anchor. Only Validate and Rebase change it.
type Validator struct {
	anchor *model.Node
}

func NewValidator(anchor *model.Node) *Validator {
	return &Validator{anchor: anchor.Clone()}
}

// Anchor returns a copy of the current anchor, or nil.
func (v *Validator) Anchor() *model.Node {
	return v.anchor.Clone()
}

// Rebase sets the anchor directly, as when an incident seeds the
// conversation with the first step of its guide.
func (v *Validator) Rebase(n *model.Node) {
	v.anchor = n.Clone()
}

// Reset clears the anchor.
func (v *Validator) Reset() {
	v.anchor = nil
}

// Validate decides whether candidate may follow the anchor under token.
//
// With no anchor every candidate is accepted. MITIGATE ends the current
// guide. CONTINUE requires another step of the same guide and CROSS a step
// of a different guide; a rejected candidate clears the anchor.
func (v *Validator) Validate(candidate *model.Node, token Token) Result {
	if v.anchor == nil {
		v.anchor = candidate.Clone()
		return Result{Verdict: Accepted, Node: candidate}
	}

	switch token {
	case Mitigate:
		v.anchor = nil
		return Result{Verdict: Resolved}

	case Cross:
		if candidate.Title == v.anchor.Title || candidate.Same(v.anchor) {
			v.anchor = nil
			return Result{Verdict: InconsistentCross}
		}

	default:
		if candidate.Title != v.anchor.Title || candidate.Same(v.anchor) {
			v.anchor = nil
			return Result{Verdict: InconsistentContinue}
		}
	}

	v.anchor = candidate.Clone()
	return Result{Verdict: Accepted, Node: candidate}
}
