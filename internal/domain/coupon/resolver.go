package coupon

// resolveConflicts walks provisional candidates in precedence order and
// admits at most one non-stackable code. Stackable codes are always admitted.
// The returned slice has one entry per candidate: empty when admitted,
// otherwise the rejection reason.
func resolveConflicts(candidates []candidate) []Reason {
	out := make([]Reason, len(candidates))
	exclusiveTaken := false
	for i, c := range candidates {
		if c.rule.Stackable {
			continue
		}
		if exclusiveTaken {
			out[i] = ReasonExclusiveConflict
			continue
		}
		exclusiveTaken = true
	}
	return out
}
