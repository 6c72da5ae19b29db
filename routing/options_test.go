package routing

import (
	"testing"
)

func TestOptionsFromEnv_Defaults(t *testing.T) {
	opts, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv: %v", err)
	}
	if opts.RouteParam != "category" {
		t.Fatalf("RouteParam = %q, want category", opts.RouteParam)
	}
	if opts.CaseSensitive || opts.PassthroughWhenUnrouted {
		t.Fatalf("expected default booleans false, got %+v", opts)
	}
	if opts.Uncategorized != UncategorizedInclude {
		t.Fatalf("Uncategorized = %v, want include", opts.Uncategorized)
	}
}

func TestOptionsFromEnv_Overrides(t *testing.T) {
	t.Setenv("MCP_ROUTE_PARAM", "group")
	t.Setenv("MCP_ROUTE_CASE_SENSITIVE", "true")
	t.Setenv("MCP_ROUTE_PASSTHROUGH", "true")
	t.Setenv("MCP_ROUTE_UNCATEGORIZED", "fallback")
	t.Setenv("MCP_ROUTE_FALLBACK_CATEGORY", " mcp ")

	opts, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv: %v", err)
	}
	if opts.RouteParam != "group" {
		t.Fatalf("RouteParam = %q, want group", opts.RouteParam)
	}
	if !opts.CaseSensitive || !opts.PassthroughWhenUnrouted {
		t.Fatalf("expected booleans set, got %+v", opts)
	}
	if opts.Uncategorized != UncategorizedFallbackRoute {
		t.Fatalf("Uncategorized = %v, want fallback", opts.Uncategorized)
	}
	if opts.FallbackCategory != "mcp" {
		t.Fatalf("FallbackCategory = %q, want trimmed \"mcp\"", opts.FallbackCategory)
	}
}

func TestUncategorizedModeDecode_Invalid(t *testing.T) {
	var m UncategorizedMode
	if err := m.Decode("sometimes"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestOptionsNormalized(t *testing.T) {
	opts := Options{RouteParam: "  ", FallbackCategory: " ops "}.Normalized()
	if opts.RouteParam != "category" {
		t.Fatalf("RouteParam = %q, want default", opts.RouteParam)
	}
	if opts.FallbackCategory != "ops" {
		t.Fatalf("FallbackCategory = %q, want trimmed", opts.FallbackCategory)
	}
}
