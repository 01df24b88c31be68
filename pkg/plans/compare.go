package plans

import "slices"

// Comparison contains the differences between two plans.
// Used to build human-readable change summaries and to warn before
// downgrades that would strand resources over the new limits.
type Comparison struct {
	NewFeatures     []Feature
	LostFeatures    []Feature
	IncreasedLimits map[Resource]LimitChange
	DecreasedLimits map[Resource]LimitChange
}

// LimitChange represents a change in resource limit.
type LimitChange struct {
	From int64
	To   int64
}

// HasDecreases returns true if any resource limits shrink.
func (c *Comparison) HasDecreases() bool {
	return len(c.DecreasedLimits) > 0
}

// Compare returns the differences between the current and target plans.
func Compare(current, target Plan) *Comparison {
	cmp := &Comparison{
		NewFeatures:     make([]Feature, 0),
		LostFeatures:    make([]Feature, 0),
		IncreasedLimits: make(map[Resource]LimitChange),
		DecreasedLimits: make(map[Resource]LimitChange),
	}

	for _, f := range target.Features {
		if !slices.Contains(current.Features, f) {
			cmp.NewFeatures = append(cmp.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !slices.Contains(target.Features, f) {
			cmp.LostFeatures = append(cmp.LostFeatures, f)
		}
	}

	for res, targetLimit := range target.Limits {
		currentLimit, exists := current.Limits[res]
		if !exists {
			cmp.IncreasedLimits[res] = LimitChange{From: 0, To: targetLimit}
			continue
		}
		if targetLimit == currentLimit {
			continue
		}

		change := LimitChange{From: currentLimit, To: targetLimit}
		// Unlimited-to-limited counts as a decrease even though -1 < n numerically.
		switch {
		case currentLimit == Unlimited:
			cmp.DecreasedLimits[res] = change
		case targetLimit == Unlimited:
			cmp.IncreasedLimits[res] = change
		case targetLimit > currentLimit:
			cmp.IncreasedLimits[res] = change
		default:
			cmp.DecreasedLimits[res] = change
		}
	}

	for res, currentLimit := range current.Limits {
		if _, exists := target.Limits[res]; !exists {
			cmp.DecreasedLimits[res] = LimitChange{From: currentLimit, To: 0}
		}
	}

	return cmp
}
