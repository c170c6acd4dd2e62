package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// Validation issue kinds.
const (
	IssueDangling        = "dangling"          // link endpoint does not exist
	IssueSelfLink        = "self-link"         // link from a spot to itself
	IssueBackward        = "backward"          // link target is not later than its source
	IssueMultipleParents = "multiple-parents"  // spot has more than one inbound link
	IssueTooManyChildren = "too-many-children" // spot has more than two outbound links
)

// ValidationError describes a lineage consistency issue.
type ValidationError struct {
	SpotID int64  `json:"spot_id"`
	RefID  int64  `json:"ref_id,omitempty"` // the other end of the offending link, if any
	Issue  string `json:"issue"`
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	if e.RefID == 0 {
		return fmt.Sprintf("%s: spot %d", e.Issue, e.SpotID)
	}
	return fmt.Sprintf("%s: spot %d -> %d", e.Issue, e.SpotID, e.RefID)
}

// ValidateLineage checks that the stored graph is a forest of tracks:
// every link goes forward in time between existing spots, no spot has more
// than one parent and no spot has more than two children.
func ValidateLineage(ctx context.Context, ls LineageStore) ([]ValidationError, error) {
	spots, err := ls.AllSpots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get spots: %w", err)
	}
	links, err := ls.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get links: %w", err)
	}

	byID := make(map[int64]Spot, len(spots))
	for _, s := range spots {
		byID[s.ID] = s
	}

	var issues []ValidationError
	parents := make(map[int64]int)
	children := make(map[int64]int)

	for _, l := range links {
		src, srcOK := byID[l.Source]
		tgt, tgtOK := byID[l.Target]
		switch {
		case !srcOK:
			issues = append(issues, ValidationError{SpotID: l.Target, RefID: l.Source, Issue: IssueDangling})
			continue
		case !tgtOK:
			issues = append(issues, ValidationError{SpotID: l.Source, RefID: l.Target, Issue: IssueDangling})
			continue
		case l.Source == l.Target:
			issues = append(issues, ValidationError{SpotID: l.Source, RefID: l.Target, Issue: IssueSelfLink})
			continue
		case tgt.Time <= src.Time:
			issues = append(issues, ValidationError{SpotID: l.Source, RefID: l.Target, Issue: IssueBackward})
		}
		parents[l.Target]++
		children[l.Source]++
	}

	for id, n := range parents {
		if n > 1 {
			issues = append(issues, ValidationError{SpotID: id, Issue: IssueMultipleParents})
		}
	}
	for id, n := range children {
		if n > 2 {
			issues = append(issues, ValidationError{SpotID: id, Issue: IssueTooManyChildren})
		}
	}

	slices.SortFunc(issues, func(a, b ValidationError) int {
		if c := cmp.Compare(a.SpotID, b.SpotID); c != 0 {
			return c
		}
		return cmp.Compare(a.Issue, b.Issue)
	})
	return issues, nil
}
