package streaminghttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/routeview/mcp-routing-go/mcpservice"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
	"github.com/routeview/mcp-routing-go/sessions/memoryhost"
	"github.com/routeview/mcp-routing-go/streaminghttp"
)

func echoTool(name string, opts ...mcpservice.ToolOption) mcpservice.ToolDef {
	type args struct{}
	return mcpservice.NewTool(name, func(ctx context.Context, session sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[args]) error {
		return w.AppendText("ran " + name)
	}, opts...)
}

func newTestServer(t *testing.T, opts routing.Options) *httptest.Server {
	t.Helper()
	tools := mcpservice.NewToolsContainer(
		echoTool("report", mcpservice.WithToolCategory("analytics")),
		echoTool("restart", mcpservice.WithToolCategory("ops")),
		echoTool("whoami"),
	)
	server := mcpservice.NewServer(
		mcpservice.WithServerInfo("routed-test", "0.0.1"),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithCategoryRouting(opts),
	)
	h, err := streaminghttp.New(t.Context(), "http://mcp.test/mcp", memoryhost.New(), server)
	if err != nil {
		t.Fatalf("streaminghttp.New: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func initialize(t *testing.T, ts *httptest.Server, path string) string {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d, want 200", res.StatusCode)
	}
	sessID := res.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}
	var rr rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&rr); err != nil {
		t.Fatalf("decode initialize response: %v", err)
	}
	if rr.Error != nil {
		t.Fatalf("initialize error: %+v", rr.Error)
	}
	return sessID
}

// call sends a JSON-RPC request on an existing session and returns the single
// response delivered over the SSE body.
func call(t *testing.T, ts *httptest.Server, path, sessID, body string) rpcResponse {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("call status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("call content-type = %q, want text/event-stream", ct)
	}
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		line := sc.Text()
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			var rr rpcResponse
			if err := json.Unmarshal([]byte(payload), &rr); err != nil {
				t.Fatalf("decode SSE payload %q: %v", payload, err)
			}
			return rr
		}
	}
	t.Fatal("no data event in SSE response")
	return rpcResponse{}
}

func listToolNames(t *testing.T, ts *httptest.Server, path, sessID string) []string {
	t.Helper()
	rr := call(t, ts, path, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`)
	if rr.Error != nil {
		t.Fatalf("tools/list error: %+v", rr.Error)
	}
	var res struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(rr.Result, &res); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestHandler_CategorizedEndpointFiltersTools(t *testing.T) {
	ts := newTestServer(t, routing.Options{Uncategorized: routing.UncategorizedExclude})

	sessID := initialize(t, ts, "/mcp/analytics")
	got := listToolNames(t, ts, "/mcp/analytics", sessID)
	if diff := cmp.Diff([]string{"report"}, got); diff != "" {
		t.Errorf("analytics tools mismatch (-want +got):\n%s", diff)
	}

	opsID := initialize(t, ts, "/mcp/ops")
	got = listToolNames(t, ts, "/mcp/ops", opsID)
	if diff := cmp.Diff([]string{"restart"}, got); diff != "" {
		t.Errorf("ops tools mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_HiddenToolCallIsUnknown(t *testing.T) {
	ts := newTestServer(t, routing.Options{Uncategorized: routing.UncategorizedExclude})
	sessID := initialize(t, ts, "/mcp/analytics")

	rr := call(t, ts, "/mcp/analytics", sessID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"restart","arguments":{}}}`)
	if rr.Error == nil {
		t.Fatal("calling a tool outside the route succeeded, want error")
	}
	if !strings.Contains(rr.Error.Message, "not found") {
		t.Errorf("error message = %q, want it to read like an unknown tool", rr.Error.Message)
	}

	rr = call(t, ts, "/mcp/analytics", sessID, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"report","arguments":{}}}`)
	if rr.Error != nil {
		t.Fatalf("calling a visible tool failed: %+v", rr.Error)
	}
}

func TestHandler_UnroutedPassthrough(t *testing.T) {
	ts := newTestServer(t, routing.Options{
		Uncategorized:           routing.UncategorizedExclude,
		PassthroughWhenUnrouted: true,
	})
	sessID := initialize(t, ts, "/mcp")

	got := listToolNames(t, ts, "/mcp", sessID)
	if diff := cmp.Diff([]string{"report", "restart", "whoami"}, got); diff != "" {
		t.Errorf("unrouted tools mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_UncategorizedIncludedByDefault(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())
	sessID := initialize(t, ts, "/mcp/analytics")

	got := listToolNames(t, ts, "/mcp/analytics", sessID)
	if diff := cmp.Diff([]string{"report", "whoami"}, got); diff != "" {
		t.Errorf("analytics tools mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_NotificationAccepted(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())
	sessID := initialize(t, ts, "/mcp")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("notification status = %d, want 202", res.StatusCode)
	}
}

func TestHandler_BatchRejected(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("batch post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("batch status = %d, want 400", res.StatusCode)
	}
}

func TestHandler_SessionDelete(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())
	sessID := initialize(t, ts, "/mcp")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post after delete: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("post after delete status = %d, want 404", res.StatusCode)
	}
}

func TestHandler_RedundantInitializeConflicts(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())
	sessID := initialize(t, ts, "/mcp")

	body := `{"jsonrpc":"2.0","id":9,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("redundant initialize: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("redundant initialize status = %d, want 409", res.StatusCode)
	}
}

func TestHandler_InitializeAdvertisesTools(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp/analytics", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer res.Body.Close()
	var rr rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var initRes struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools *struct {
				ListChanged bool `json:"listChanged"`
			} `json:"tools"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(rr.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ProtocolVersion != "2025-06-18" {
		t.Errorf("protocolVersion = %q, want 2025-06-18", initRes.ProtocolVersion)
	}
	if initRes.ServerInfo.Name != "routed-test" {
		t.Errorf("serverInfo.name = %q, want routed-test", initRes.ServerInfo.Name)
	}
	if initRes.Capabilities.Tools == nil || !initRes.Capabilities.Tools.ListChanged {
		t.Error("tools capability with listChanged not advertised")
	}
	if pv := res.Header.Get("Mcp-Protocol-Version"); pv != "2025-06-18" {
		t.Errorf("Mcp-Protocol-Version header = %q, want 2025-06-18", pv)
	}
}

func TestHandler_UnknownMethod(t *testing.T) {
	ts := newTestServer(t, routing.DefaultOptions())
	sessID := initialize(t, ts, "/mcp")

	rr := call(t, ts, "/mcp", sessID, `{"jsonrpc":"2.0","id":6,"method":"resources/subscribe","params":{}}`)
	if rr.Error == nil {
		t.Fatal("unknown method succeeded, want error")
	}
	if rr.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", rr.Error.Code)
	}
}
