package routing

import "strings"

// CategorySet is the resolved category membership of a primitive. Labels are
// kept in first-insertion order and deduplicated case-insensitively; the
// casing of the first occurrence wins.
type CategorySet struct {
	labels []string
}

// Labels returns a copy of the resolved labels in stable order.
func (s CategorySet) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Len returns the number of resolved labels.
func (s CategorySet) Len() int { return len(s.labels) }

// IsEmpty reports whether the primitive is uncategorized.
func (s CategorySet) IsEmpty() bool { return len(s.labels) == 0 }

// Contains reports whether label matches any resolved label. Matching is
// case-insensitive unless caseSensitive is set.
func (s CategorySet) Contains(label string, caseSensitive bool) bool {
	for _, l := range s.labels {
		if labelsEqual(l, label, caseSensitive) {
			return true
		}
	}
	return false
}

func labelsEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// ResolveCategories extracts the category set declared by an ordered tag list.
//
// Every CategoryTag contributes its trimmed label; blank labels are dropped.
// If no CategoryTag is present at all, the last LegacyCategoryTag in the list
// supplies the sole label (again, blank means none). The presence of any
// CategoryTag — including one whose label is blank — suppresses the legacy
// mechanism entirely: precedence is decided by the tag kind being used, not by
// whether it carried a usable value.
func ResolveCategories(tags []Tag) CategorySet {
	var set CategorySet
	sawPrimary := false
	for _, t := range tags {
		ct, ok := t.(CategoryTag)
		if !ok {
			continue
		}
		sawPrimary = true
		label := strings.TrimSpace(ct.Label)
		if label == "" {
			continue
		}
		if !set.Contains(label, false) {
			set.labels = append(set.labels, label)
		}
	}
	if sawPrimary {
		return set
	}

	var last string
	for _, t := range tags {
		if lt, ok := t.(LegacyCategoryTag); ok {
			last = lt.Label
		}
	}
	if label := strings.TrimSpace(last); label != "" {
		set.labels = append(set.labels, label)
	}
	return set
}

// CategoriesOf is shorthand for ResolveCategories(tags).Labels().
func CategoriesOf(tags []Tag) []string {
	return ResolveCategories(tags).Labels()
}

// BelongsTo reports whether a primitive with the given tags belongs to the
// category label under the options' case sensitivity.
func BelongsTo(tags []Tag, label string, opts Options) bool {
	return ResolveCategories(tags).Contains(strings.TrimSpace(label), opts.CaseSensitive)
}
