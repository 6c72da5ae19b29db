package mcpservice

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// testSession is a minimal session carrying optional route values.
type testSession struct {
	id     string
	routes map[string]string
}

func (s *testSession) SessionID() string       { return s.id }
func (s *testSession) UserID() string          { return "user-1" }
func (s *testSession) ProtocolVersion() string { return mcp.LatestProtocolVersion }
func (s *testSession) ConsumeMessages(ctx context.Context, lastEventID string, handler sessions.MessageHandlerFunc) error {
	<-ctx.Done()
	return ctx.Err()
}
func (s *testSession) WriteMessage(ctx context.Context, msg []byte) error { return nil }

func (s *testSession) RouteParam(name string) (string, bool) {
	v, ok := s.routes[name]
	return v, ok
}

func routedSession(category string) *testSession {
	return &testSession{id: "sess-" + category, routes: map[string]string{"category": category}}
}

func unroutedSession() *testSession {
	return &testSession{id: "sess-unrouted"}
}

func echoTool(name string, opts ...ToolOption) ToolDef {
	type args struct{}
	return NewTool(name, func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[args]) error {
		return w.AppendText("ran " + name)
	}, opts...)
}

func testServerTools(opts routing.Options, defs ...ToolDef) ServerCapabilities {
	return NewServer(
		WithToolsCapability(NewToolsContainer(defs...)),
		WithCategoryRouting(opts),
	)
}

func listToolNames(t *testing.T, srv ServerCapabilities, sess sessions.Session) []string {
	t.Helper()
	cap, ok, err := srv.GetToolsCapability(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetToolsCapability: %v", err)
	}
	if !ok {
		t.Fatalf("tools capability absent")
	}
	page, err := cap.ListTools(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make([]string, len(page.Items))
	for i, tool := range page.Items {
		names[i] = tool.Name
	}
	return names
}

func TestCategoryRouting_FiltersByRoute(t *testing.T) {
	srv := testServerTools(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude},
		echoTool("report", WithToolCategory("analytics")),
		echoTool("restart", WithToolCategory("ops")),
		echoTool("misc"),
	)

	got := listToolNames(t, srv, routedSession("analytics"))
	if diff := cmp.Diff([]string{"report"}, got); diff != "" {
		t.Errorf("analytics view mismatch (-want +got):\n%s", diff)
	}

	got = listToolNames(t, srv, routedSession("ops"))
	if diff := cmp.Diff([]string{"restart"}, got); diff != "" {
		t.Errorf("ops view mismatch (-want +got):\n%s", diff)
	}
}

func TestCategoryRouting_HiddenToolIsUnknownToCall(t *testing.T) {
	srv := testServerTools(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude},
		echoTool("report", WithToolCategory("analytics")),
		echoTool("restart", WithToolCategory("ops")),
	)
	sess := routedSession("analytics")
	cap, _, err := srv.GetToolsCapability(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetToolsCapability: %v", err)
	}

	if _, err := cap.CallTool(context.Background(), sess, &mcp.CallToolRequestReceived{Name: "restart"}); err == nil {
		t.Fatalf("expected error calling hidden tool")
	} else if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("hidden tool error should be indistinguishable from unknown, got %v", err)
	}

	res, err := cap.CallTool(context.Background(), sess, &mcp.CallToolRequestReceived{Name: "report"})
	if err != nil {
		t.Fatalf("CallTool visible: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "ran report" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCategoryRouting_UncategorizedModes(t *testing.T) {
	defs := []ToolDef{
		echoTool("report", WithToolCategory("analytics")),
		echoTool("misc"),
	}

	t.Run("include", func(t *testing.T) {
		srv := testServerTools(routing.Options{RouteParam: "category"}, defs...)
		got := listToolNames(t, srv, routedSession("analytics"))
		if diff := cmp.Diff([]string{"report", "misc"}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("exclude", func(t *testing.T) {
		srv := testServerTools(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}, defs...)
		got := listToolNames(t, srv, routedSession("analytics"))
		if diff := cmp.Diff([]string{"report"}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		srv := testServerTools(routing.Options{
			RouteParam:       "category",
			Uncategorized:    routing.UncategorizedFallbackRoute,
			FallbackCategory: "general",
		}, defs...)

		got := listToolNames(t, srv, routedSession("general"))
		if diff := cmp.Diff([]string{"misc"}, got); diff != "" {
			t.Errorf("fallback view (-want +got):\n%s", diff)
		}
		got = listToolNames(t, srv, routedSession("analytics"))
		if diff := cmp.Diff([]string{"report"}, got); diff != "" {
			t.Errorf("analytics view (-want +got):\n%s", diff)
		}
	})
}

func TestCategoryRouting_PassthroughWhenUnrouted(t *testing.T) {
	defs := []ToolDef{
		echoTool("report", WithToolCategory("analytics")),
		echoTool("misc"),
	}

	srv := testServerTools(routing.Options{
		RouteParam:              "category",
		Uncategorized:           routing.UncategorizedExclude,
		PassthroughWhenUnrouted: true,
	}, defs...)
	got := listToolNames(t, srv, unroutedSession())
	if diff := cmp.Diff([]string{"report", "misc"}, got); diff != "" {
		t.Errorf("passthrough view (-want +got):\n%s", diff)
	}

	// Without passthrough an unrouted session gets the no-category policy.
	srv = testServerTools(routing.Options{
		RouteParam:    "category",
		Uncategorized: routing.UncategorizedExclude,
	}, defs...)
	got = listToolNames(t, srv, unroutedSession())
	if len(got) != 0 {
		t.Errorf("expected empty view, got %v", got)
	}
}

func TestCategoryRouting_OrderPreservedAndStable(t *testing.T) {
	srv := testServerTools(routing.Options{RouteParam: "category"},
		echoTool("a", WithToolCategory("x")),
		echoTool("b"),
		echoTool("c", WithToolCategory("x"), WithToolCategory("y")),
		echoTool("d", WithToolLegacyCategory("x")),
	)
	sess := routedSession("x")

	first := listToolNames(t, srv, sess)
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, first); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	// Repeated listings for the same session yield the same view.
	second := listToolNames(t, srv, sess)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("view not stable (-first +second):\n%s", diff)
	}
}

func TestCategoryRouting_CaseSensitivity(t *testing.T) {
	defs := []ToolDef{echoTool("report", WithToolCategory("Analytics"))}

	srv := testServerTools(routing.Options{RouteParam: "category"}, defs...)
	if got := listToolNames(t, srv, routedSession("analytics")); len(got) != 1 {
		t.Errorf("case-insensitive match expected, got %v", got)
	}

	srv = testServerTools(routing.Options{RouteParam: "category", CaseSensitive: true}, defs...)
	if got := listToolNames(t, srv, routedSession("analytics")); len(got) != 0 {
		t.Errorf("case-sensitive mismatch expected, got %v", got)
	}
}

// untaggedTools is a ToolsCapability with no def metadata.
type untaggedTools struct{ inner ToolsCapability }

func (u untaggedTools) ListTools(ctx context.Context, s sessions.Session, c *string) (Page[mcp.Tool], error) {
	return u.inner.ListTools(ctx, s, c)
}
func (u untaggedTools) CallTool(ctx context.Context, s sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	return u.inner.CallTool(ctx, s, req)
}
func (u untaggedTools) GetListChangedCapability(ctx context.Context, s sessions.Session) (ToolListChangedCapability, bool, error) {
	return u.inner.GetListChangedCapability(ctx, s)
}

func TestCategoryRouting_CapabilityWithoutTags(t *testing.T) {
	inner := NewToolsContainer(echoTool("opaque"))
	srv := NewServer(
		WithToolsCapability(untaggedTools{inner: inner}),
		WithCategoryRouting(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}),
	)

	// All items count as uncategorized, so Exclude hides the whole surface.
	got := listToolNames(t, srv, routedSession("analytics"))
	if len(got) != 0 {
		t.Errorf("expected hidden capability, got %v", got)
	}

	cap, _, err := srv.GetToolsCapability(context.Background(), routedSession("analytics"))
	if err != nil {
		t.Fatalf("GetToolsCapability: %v", err)
	}
	if _, err := cap.CallTool(context.Background(), routedSession("analytics"), &mcp.CallToolRequestReceived{Name: "opaque"}); err == nil {
		t.Fatalf("expected error calling tool on hidden capability")
	}
}

func TestCategoryRouting_HiddenCapabilityHasNoListChanged(t *testing.T) {
	inner := NewToolsContainer(echoTool("opaque"))
	srv := NewServer(
		WithToolsCapability(untaggedTools{inner: inner}),
		WithCategoryRouting(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}),
	)
	sess := routedSession("analytics")

	cap, _, err := srv.GetToolsCapability(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetToolsCapability: %v", err)
	}
	lc, ok, err := cap.GetListChangedCapability(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetListChangedCapability: %v", err)
	}
	if ok || lc != nil {
		t.Fatalf("hidden capability should not advertise listChanged, got ok=%v cap=%v", ok, lc)
	}

	// A tagged view with a visible subset still delegates to the container.
	srv = NewServer(
		WithToolsCapability(inner),
		WithCategoryRouting(routing.Options{RouteParam: "category"}),
	)
	cap, _, err = srv.GetToolsCapability(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetToolsCapability: %v", err)
	}
	if _, ok, err := cap.GetListChangedCapability(context.Background(), sess); err != nil || !ok {
		t.Fatalf("visible view should keep listChanged, ok=%v err=%v", ok, err)
	}
}

func TestCategoryRouting_Prompts(t *testing.T) {
	pc := NewPromptsContainer(
		NewPrompt("summarize", func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{}}, nil
		}, WithPromptCategory("analytics")),
		NewPrompt("triage", func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{}}, nil
		}, WithPromptCategory("ops")),
	)
	srv := NewServer(
		WithPromptsCapability(pc),
		WithCategoryRouting(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}),
	)
	sess := routedSession("ops")

	cap, ok, err := srv.GetPromptsCapability(context.Background(), sess)
	if err != nil || !ok {
		t.Fatalf("GetPromptsCapability: ok=%v err=%v", ok, err)
	}
	page, err := cap.ListPrompts(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "triage" {
		t.Fatalf("unexpected prompts: %+v", page.Items)
	}
	if _, err := cap.GetPrompt(context.Background(), sess, &mcp.GetPromptRequestReceived{Name: "summarize"}); err == nil {
		t.Fatalf("expected error getting hidden prompt")
	}
}

func TestCategoryRouting_Resources(t *testing.T) {
	rc := NewResourcesContainer(
		TextResource("doc://usage", "usage", "text/markdown", "usage doc", routing.Category("analytics")),
		TextResource("doc://runbook", "runbook", "text/markdown", "runbook doc", routing.Category("ops")),
		TextResource("doc://readme", "readme", "text/markdown", "readme doc"),
	)
	srv := NewServer(
		WithResourcesCapability(rc),
		WithCategoryRouting(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}),
	)
	sess := routedSession("analytics")

	cap, ok, err := srv.GetResourcesCapability(context.Background(), sess)
	if err != nil || !ok {
		t.Fatalf("GetResourcesCapability: ok=%v err=%v", ok, err)
	}
	page, err := cap.ListResources(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].URI != "doc://usage" {
		t.Fatalf("unexpected resources: %+v", page.Items)
	}

	contents, err := cap.ReadResource(context.Background(), sess, "doc://usage")
	if err != nil {
		t.Fatalf("ReadResource visible: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != "usage doc" {
		t.Fatalf("unexpected contents: %+v", contents)
	}
	if _, err := cap.ReadResource(context.Background(), sess, "doc://runbook"); err == nil {
		t.Fatalf("expected error reading hidden resource")
	}
}

func TestCategoryRouting_ContainerMutationRefreshesView(t *testing.T) {
	tc := NewToolsContainer(echoTool("report", WithToolCategory("analytics")))
	srv := NewServer(
		WithToolsCapability(tc),
		WithCategoryRouting(routing.Options{RouteParam: "category", Uncategorized: routing.UncategorizedExclude}),
	)
	sess := routedSession("analytics")

	if got := listToolNames(t, srv, sess); len(got) != 1 {
		t.Fatalf("expected one tool, got %v", got)
	}
	tc.Add(context.Background(), echoTool("forecast", WithToolCategory("analytics")))
	got := listToolNames(t, srv, sess)
	if diff := cmp.Diff([]string{"report", "forecast"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
