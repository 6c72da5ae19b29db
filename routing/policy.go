package routing

import "strings"

// IsVisible decides whether a primitive with the given resolved category set
// is visible to a session that requested the given category. requested is
// trimmed first; an empty or all-whitespace value means no category was
// requested.
//
// Categorized primitives are visible only when a category was requested and it
// matches one of their labels; they are never visible to an unrouted session,
// regardless of the uncategorized mode. Uncategorized primitives follow
// opts.Uncategorized.
//
// Session-level passthrough (Options.PassthroughWhenUnrouted) is handled by
// the session filter before any per-primitive decision is made; it is not a
// branch of this policy.
func IsVisible(set CategorySet, requested string, opts Options) bool {
	requested = strings.TrimSpace(requested)

	if !set.IsEmpty() {
		if requested == "" {
			return false
		}
		return set.Contains(requested, opts.CaseSensitive)
	}

	switch opts.Uncategorized {
	case UncategorizedExclude:
		return false
	case UncategorizedFallbackRoute:
		if requested == "" || opts.FallbackCategory == "" {
			return false
		}
		return labelsEqual(requested, opts.FallbackCategory, opts.CaseSensitive)
	default:
		return true
	}
}
