package routing

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// UncategorizedMode selects how primitives with an empty category set are
// treated when a session is filtered.
type UncategorizedMode int

const (
	// UncategorizedInclude exposes uncategorized primitives on every
	// categorized endpoint. This is the default.
	UncategorizedInclude UncategorizedMode = iota
	// UncategorizedExclude hides uncategorized primitives everywhere.
	UncategorizedExclude
	// UncategorizedFallbackRoute exposes uncategorized primitives only on the
	// endpoint whose category equals Options.FallbackCategory.
	UncategorizedFallbackRoute
)

func (m UncategorizedMode) String() string {
	switch m {
	case UncategorizedExclude:
		return "exclude"
	case UncategorizedFallbackRoute:
		return "fallback"
	default:
		return "include"
	}
}

// Decode implements envdecode.Decoder so the mode can be set from the
// environment as "include", "exclude" or "fallback".
func (m *UncategorizedMode) Decode(repr string) error {
	switch strings.ToLower(strings.TrimSpace(repr)) {
	case "", "include":
		*m = UncategorizedInclude
	case "exclude":
		*m = UncategorizedExclude
	case "fallback":
		*m = UncategorizedFallbackRoute
	default:
		return fmt.Errorf("unknown uncategorized mode %q", repr)
	}
	return nil
}

// Options is the process-wide routing configuration. It is read-only after
// startup; every filtering decision snapshots it by value.
type Options struct {
	// RouteParam is the name of the path wildcard carrying the requested
	// category on categorized endpoints.
	RouteParam string `env:"MCP_ROUTE_PARAM,default=category"`

	// CaseSensitive switches category comparison from the default
	// case-insensitive matching to exact matching.
	CaseSensitive bool `env:"MCP_ROUTE_CASE_SENSITIVE,default=false"`

	// PassthroughWhenUnrouted disables filtering altogether for sessions that
	// did not request a category: such sessions see the unfiltered registry.
	// When false, a missing category is handled by the membership policy like
	// an empty requested category.
	PassthroughWhenUnrouted bool `env:"MCP_ROUTE_PASSTHROUGH,default=false"`

	// Uncategorized selects the policy for primitives with no resolved
	// category.
	Uncategorized UncategorizedMode `env:"MCP_ROUTE_UNCATEGORIZED,default=include"`

	// FallbackCategory is the category that exposes uncategorized primitives
	// when Uncategorized is UncategorizedFallbackRoute.
	FallbackCategory string `env:"MCP_ROUTE_FALLBACK_CATEGORY,default="`
}

// DefaultOptions returns the options used when none are supplied: route param
// "category", case-insensitive matching, filtering always on, uncategorized
// primitives included everywhere.
func DefaultOptions() Options {
	return Options{RouteParam: "category"}
}

// OptionsFromEnv loads Options from MCP_ROUTE_* environment variables,
// falling back to the documented defaults for unset variables.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := envdecode.Decode(&opts); err != nil {
		return Options{}, fmt.Errorf("decode routing options: %w", err)
	}
	return opts.Normalized(), nil
}

// Normalized returns a copy with blank fields replaced by defaults and label
// fields trimmed. Filtering code calls this once up front so the hot path can
// assume well-formed values.
func (o Options) Normalized() Options {
	o.RouteParam = strings.TrimSpace(o.RouteParam)
	if o.RouteParam == "" {
		o.RouteParam = "category"
	}
	o.FallbackCategory = strings.TrimSpace(o.FallbackCategory)
	return o
}
