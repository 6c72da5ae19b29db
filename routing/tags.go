// Package routing implements category-based visibility for MCP primitives.
//
// A server declares zero or more category labels on each tool, prompt and
// resource at registration time. When a client connects through a categorized
// endpoint (e.g. /mcp/analytics), the session only sees the primitives whose
// resolved categories match the endpoint's category. The package is split into
// three small pieces:
//
//   - tags: declaration-time metadata entries (Category / LegacyCategory)
//   - ResolveCategories: turns a primitive's tag list into its category set
//   - IsVisible: decides whether a primitive is visible to a session given the
//     requested category and the configured Options
//
// All functions here are pure and total: malformed labels are dropped, never
// rejected, and no function in this package returns an error.
package routing

// Tag is a single declaration-time metadata entry attached to a primitive.
// The concrete kinds are CategoryTag and LegacyCategoryTag; other entry types
// attached to a primitive are simply ignored by resolution.
type Tag interface {
	isTag()
}

// CategoryTag is the preferred category declaration. A primitive may carry any
// number of CategoryTags and belongs to every label it declares.
type CategoryTag struct {
	Label string
}

// LegacyCategoryTag is the deprecated single-slot category declaration kept
// for backward compatibility with older registrations. When a primitive's tag
// list mixes several LegacyCategoryTags, only the last one in declaration
// order counts; when any CategoryTag is present, LegacyCategoryTags are
// ignored entirely.
type LegacyCategoryTag struct {
	Label string
}

func (CategoryTag) isTag()       {}
func (LegacyCategoryTag) isTag() {}

// Category returns a primary category tag for label.
func Category(label string) Tag { return CategoryTag{Label: label} }

// LegacyCategory returns a fallback category tag for label.
//
// Deprecated: declare categories with Category. LegacyCategory exists only so
// registrations written against the single-category mechanism keep working.
func LegacyCategory(label string) Tag { return LegacyCategoryTag{Label: label} }
