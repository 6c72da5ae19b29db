package mcpservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

func TestNewTool_SchemaReflection(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema:"description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}
	def := NewTool("search", func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[args]) error {
		return nil
	}, WithToolDescription("Search things"))

	if def.Descriptor.Name != "search" || def.Descriptor.Description != "Search things" {
		t.Fatalf("unexpected descriptor: %+v", def.Descriptor)
	}
	schema := def.Descriptor.InputSchema
	if schema.Type != "object" {
		t.Fatalf("schema type = %q", schema.Type)
	}
	if _, ok := schema.Properties["query"]; !ok {
		t.Fatalf("missing query property: %+v", schema.Properties)
	}
	if diff := cmp.Diff([]string{"query"}, schema.Required); diff != "" {
		t.Errorf("required (-want +got):\n%s", diff)
	}
	if schema.AdditionalProperties {
		t.Errorf("additionalProperties should default to false")
	}
}

func TestNewTool_StrictArgumentDecoding(t *testing.T) {
	type args struct {
		Name string `json:"name"`
	}
	var got string
	def := NewTool("greet", func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[args]) error {
		got = r.Args().Name
		return w.AppendTextf("hello %s", r.Args().Name)
	})
	sess := unroutedSession()

	res, err := def.Handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"world"}`),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if got != "world" || res.Content[0].Text != "hello world" {
		t.Fatalf("args not decoded: got=%q res=%+v", got, res)
	}

	// Unknown fields are rejected and surface as a tool-level error.
	res, err = def.Handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"world","extra":true}`),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected isError result for unknown field, got %+v", res)
	}
}

func TestNewTool_CategoryOptions(t *testing.T) {
	def := NewTool("report", func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return nil
	}, WithToolCategory("analytics"), WithToolLegacyCategory("reports"))

	got := routing.ResolveCategories(def.Tags).Labels()
	if diff := cmp.Diff([]string{"analytics"}, got); diff != "" {
		t.Errorf("categories (-want +got):\n%s", diff)
	}
}

func TestToolResponseWriter_Finalize(t *testing.T) {
	w := newToolResponseWriter()
	if err := w.AppendText("one"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	if err := w.SetError(true); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	res := w.Result()
	if !res.IsError || len(res.Content) != 1 || res.Content[0].Text != "one" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := w.AppendText("late"); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestToolsContainer_AddRemoveAndPaging(t *testing.T) {
	tc := NewToolsContainer(
		echoTool("a"),
		echoTool("b"),
		echoTool("c"),
	)
	tc.SetPageSize(2)
	sess := unroutedSession()

	page, err := tc.ListTools(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, err = tc.ListTools(context.Background(), sess, page.NextCursor)
	if err != nil {
		t.Fatalf("ListTools page 2: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Fatalf("unexpected second page: %+v", page)
	}

	if tc.Add(context.Background(), echoTool("a")) {
		t.Errorf("duplicate add should be rejected")
	}
	if !tc.Remove(context.Background(), "b") {
		t.Errorf("remove should succeed")
	}
	if tc.Remove(context.Background(), "b") {
		t.Errorf("second remove should be a no-op")
	}
	if _, err := tc.CallTool(context.Background(), sess, &mcp.CallToolRequestReceived{Name: "b"}); err == nil {
		t.Errorf("removed tool should be unknown")
	}
}

func TestToolsContainer_ListChangedSignal(t *testing.T) {
	tc := NewToolsContainer()
	ch := tc.Subscriber()
	tc.Add(context.Background(), echoTool("late"))
	select {
	case <-ch:
	case <-testTimeout(t):
		t.Fatalf("no change signal after Add")
	}
}

func testTimeout(t *testing.T) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx.Done()
}
