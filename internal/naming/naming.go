// Package naming derives display labels for simulated agents from their
// lineage-encoded base label and their most recent stepping status.
package naming

import (
	"fmt"
	"strings"
)

// Status is the outcome of an agent's most recent step.
type Status int

const (
	StatusNormal             Status = iota // moved, no pending division
	StatusBlocked                          // no collision-free move found
	StatusWantsDivide                      // division due but gated by density
	StatusBlockedWantsDivide               // division due, gated, and blocked
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusBlocked:
		return "blocked"
	case StatusWantsDivide:
		return "wants-divide"
	case StatusBlockedWantsDivide:
		return "blocked-wants-divide"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Policy selects how labels are derived.
type Policy string

const (
	// PolicyFixed labels every agent with FixedLabel.
	PolicyFixed Policy = "fixed"
	// PolicyLineage uses the lineage label as is (1, 1a, 1ab, ...).
	PolicyLineage Policy = "lineage"
	// PolicyLineagePrefixed prepends status hints B_, W_, BW_.
	PolicyLineagePrefixed Policy = "lineage-prefixed"
	// PolicyLineageSuffixed appends status hints _B, _W, _BW.
	PolicyLineageSuffixed Policy = "lineage-suffixed"
)

// FixedLabel is the one and only label used by PolicyFixed.
const FixedLabel = "M"

// Policies lists all supported policies in display order.
func Policies() []Policy {
	return []Policy{PolicyLineage, PolicyLineagePrefixed, PolicyLineageSuffixed, PolicyFixed}
}

// ParsePolicy maps a policy name to a Policy (case-insensitive).
// The empty string maps to PolicyLineage.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyLineage, nil
	}
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown naming policy %q (valid: lineage, lineage-prefixed, lineage-suffixed, fixed)", s)
	}
	return p, nil
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyFixed, PolicyLineage, PolicyLineagePrefixed, PolicyLineageSuffixed:
		return true
	}
	return false
}

// hint returns the short status marker, or "" for StatusNormal.
func hint(s Status) string {
	switch s {
	case StatusBlocked:
		return "B"
	case StatusWantsDivide:
		return "W"
	case StatusBlockedWantsDivide:
		return "BW"
	default:
		return ""
	}
}

// Label derives the display label for base under status.
func (p Policy) Label(base string, status Status) string {
	switch p {
	case PolicyFixed:
		return FixedLabel
	case PolicyLineagePrefixed:
		if h := hint(status); h != "" {
			return h + "_" + base
		}
		return base
	case PolicyLineageSuffixed:
		if h := hint(status); h != "" {
			return base + "_" + h
		}
		return base
	default:
		return base
	}
}

// DaughterLabels returns the base labels of the two daughters of parent.
func DaughterLabels(parent string) (string, string) {
	return parent + "a", parent + "b"
}

// BaseLabel strips any status hint added by the lineage policies, so a
// stored display label can seed a resumed lineage.
func BaseLabel(label string) string {
	for _, h := range []string{"BW", "B", "W"} {
		if rest, ok := strings.CutPrefix(label, h+"_"); ok && rest != "" {
			return rest
		}
		if rest, ok := strings.CutSuffix(label, "_"+h); ok && rest != "" {
			return rest
		}
	}
	return label
}
