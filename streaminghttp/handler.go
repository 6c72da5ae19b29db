// Package streaminghttp serves MCP over the streamable HTTP transport with
// category-scoped endpoints. The handler mounts the configured endpoint path
// twice: once bare and once with a trailing category segment, so
//
//	POST /mcp            -> unrouted session
//	POST /mcp/analytics  -> session routed to the "analytics" category
//
// The category segment is captured at initialize time into the session's
// route values, where mcpservice.WithCategoryRouting picks it up to narrow
// the session's view of tools, prompts and resources.
package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/routeview/mcp-routing-go/auth"
	"github.com/routeview/mcp-routing-go/internal/jsonrpc"
	"github.com/routeview/mcp-routing-go/internal/logctx"
	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/mcpservice"
	"github.com/routeview/mcp-routing-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	auth       auth.Authenticator
	realm      string
	routeParam string
	sessionTTL time.Duration
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuthenticator requires bearer authentication on every request. Without
// it all sessions run as the anonymous user.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.auth = a }
}

// WithRealm sets the realm attribute of WWW-Authenticate challenges. Empty
// (the default) omits it.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = strings.TrimSpace(realm) }
}

// WithRouteParam sets the name of the category path segment. It must match
// the RouteParam in the routing options given to WithCategoryRouting.
// Defaults to "category".
func WithRouteParam(name string) Option {
	return func(c *config) { c.routeParam = name }
}

// WithSessionTTL sets the idle TTL for created sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *config) { c.sessionTTL = ttl }
}

// Handler implements the streamable HTTP transport over a
// mcpservice.ServerCapabilities.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	serverURL *url.URL

	auth       auth.Authenticator
	realm      string
	server     mcpservice.ServerCapabilities
	manager    *sessions.Manager
	routeParam string

	// lifecycle outlives individual requests; listChanged forwarders are
	// registered against per-session children of it.
	lifecycle context.Context

	fwdMu      sync.Mutex
	forwarders map[string]context.CancelFunc
}

// New builds a Handler serving server at publicEndpoint, persisting sessions
// in host. ctx bounds background work such as listChanged forwarding; cancel
// it when shutting down.
func New(ctx context.Context, publicEndpoint string, host sessions.SessionHost, server mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server capabilities are required")
	}
	if host == nil {
		return nil, fmt.Errorf("session host is required")
	}
	u, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", u.Scheme)
	}

	cfg := &config{logger: slog.Default(), routeParam: "category"}
	for _, opt := range opts {
		opt(cfg)
	}

	var mgrOpts []sessions.ManagerOption
	if cfg.sessionTTL > 0 {
		mgrOpts = append(mgrOpts, sessions.WithSessionTTL(cfg.sessionTTL))
	}
	mgr, err := sessions.NewManager(host, mgrOpts...)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:        slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		serverURL:  u,
		auth:       cfg.auth,
		realm:      cfg.realm,
		server:     server,
		manager:    mgr,
		routeParam: cfg.routeParam,
		lifecycle:  ctx,
		forwarders: make(map[string]context.CancelFunc),
	}

	base := pathOnly(u)
	routed := strings.TrimSuffix(base, "/") + "/{" + cfg.routeParam + "}"
	mux := http.NewServeMux()
	for _, p := range []string{base, routed} {
		mux.HandleFunc("POST "+p, h.handlePost)
		mux.HandleFunc("GET "+p, h.handleGet)
		mux.HandleFunc("DELETE "+p, h.handleDelete)
	}
	h.mux = mux
	return h, nil
}

func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if cat := r.PathValue(h.routeParam); cat != "" {
		ctx = logctx.WithRouteData(ctx, &logctx.RouteData{Param: h.routeParam, Category: cat})
	}
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// writeJSONError emits a transport-level error body before any JSON-RPC
// exchange is possible.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		return
	}
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: msg.Method, ID: msg.ID.String()})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, r, &msg, userInfo, start)
		return
	}

	sess, err := h.manager.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidSession) {
			h.stopForwarders(sessID)
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		UserID:          sess.UserID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	req := msg.AsRequest()
	if req != nil && req.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion() != "" && pv != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		return
	}

	if req != nil && req.IsNotification() {
		// Lifecycle notifications need no work beyond acknowledgment.
		if spv := sess.ProtocolVersion(); spv != "" {
			w.Header().Set(mcpProtocolVersionHeader, spv)
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if req != nil {
		if acc := r.Header.Get("Accept"); acc != "" {
			if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
		}
		if spv := sess.ProtocolVersion(); spv != "" {
			w.Header().Set(mcpProtocolVersionHeader, spv)
		}
		w.Header().Set("Content-Type", eventStreamMediaType.String())
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		wf.Flush()

		res := h.dispatch(ctx, sess, req)
		b, err := json.Marshal(res)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if err := writeSSEEvent(wf, "", b); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	// Client responses have no server-initiated counterpart here; accept and
	// drop them.
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage, userInfo auth.UserInfo, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		return
	}
	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
		return
	}

	pv, err := h.negotiateProtocolVersion(ctx, initReq.ProtocolVersion)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to negotiate protocol version")
		h.log.ErrorContext(ctx, "protocol.negotiate.fail", slog.String("err", err.Error()))
		return
	}

	sessOpts := []sessions.SessionOption{
		sessions.WithProtocolVersion(pv),
		sessions.WithClientInfo(sessions.ClientInfo{Name: initReq.ClientInfo.Name, Version: initReq.ClientInfo.Version}),
	}
	if cat := strings.TrimSpace(r.PathValue(h.routeParam)); cat != "" {
		sessOpts = append(sessOpts, sessions.WithRouteValues(map[string]string{h.routeParam: cat}))
	}
	sess, err := h.manager.CreateSession(ctx, userInfo.UserID(), sessOpts...)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		UserID:          sess.UserID(),
		ProtocolVersion: pv,
	})

	initRes, err := h.buildInitializeResult(ctx, sess, pv)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}
	h.registerListChangedForwarders(sess)

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.SessionID())
	w.Header().Set(mcpProtocolVersionHeader, pv)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) negotiateProtocolVersion(ctx context.Context, clientPV string) (string, error) {
	if v, ok, err := h.server.GetPreferredProtocolVersion(ctx); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	if mcp.IsSupportedProtocolVersion(clientPV) {
		return clientPV, nil
	}
	return mcp.LatestProtocolVersion, nil
}

func (h *Handler) buildInitializeResult(ctx context.Context, sess sessions.Session, pv string) (*mcp.InitializeResult, error) {
	info, err := h.server.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	res := &mcp.InitializeResult{
		ProtocolVersion: pv,
		ServerInfo:      info,
	}
	if instr, ok, err := h.server.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if cap, ok, err := h.server.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("tools capability: %w", err)
	} else if ok {
		_, lc, err := capListChanged(func() (mcpservice.ToolListChangedCapability, bool, error) {
			return cap.GetListChangedCapability(ctx, sess)
		})
		if err != nil {
			return nil, err
		}
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: lc}
	}
	if cap, ok, err := h.server.GetPromptsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("prompts capability: %w", err)
	} else if ok {
		_, lc, err := capListChanged(func() (mcpservice.PromptListChangedCapability, bool, error) {
			return cap.GetListChangedCapability(ctx, sess)
		})
		if err != nil {
			return nil, err
		}
		res.Capabilities.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: lc}
	}
	if cap, ok, err := h.server.GetResourcesCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("resources capability: %w", err)
	} else if ok {
		_, lc, err := capListChanged(func() (mcpservice.ResourceListChangedCapability, bool, error) {
			return cap.GetListChangedCapability(ctx, sess)
		})
		if err != nil {
			return nil, err
		}
		res.Capabilities.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{ListChanged: lc}
	}
	return res, nil
}

func capListChanged[T any](get func() (T, bool, error)) (T, bool, error) {
	cap, ok, err := get()
	return cap, ok && err == nil, err
}

// registerListChangedForwarders turns container change signals into
// notifications on the session's message stream. Each session gets its own
// child of the handler's lifecycle context; stopForwarders cancels it when the
// session is deleted or turns out to be gone.
func (h *Handler) registerListChangedForwarders(sess sessions.Session) {
	ctx, cancel := context.WithCancel(h.lifecycle)
	sessID := sess.SessionID()
	h.fwdMu.Lock()
	if prev, ok := h.forwarders[sessID]; ok {
		prev()
	}
	h.forwarders[sessID] = cancel
	h.fwdMu.Unlock()

	notify := func(method mcp.Method) {
		if ctx.Err() != nil {
			return
		}
		n := &jsonrpc.Request{JSONRPCVersion: jsonrpc.Version, Method: string(method)}
		b, err := json.Marshal(n)
		if err != nil {
			return
		}
		if err := sess.WriteMessage(ctx, b); err != nil {
			if errors.Is(err, sessions.ErrSessionNotFound) || errors.Is(err, sessions.ErrInvalidSession) {
				h.stopForwarders(sessID)
				return
			}
			h.log.DebugContext(ctx, "listchanged.publish.fail", slog.String("err", err.Error()))
		}
	}
	if cap, ok, err := h.server.GetToolsCapability(ctx, sess); err == nil && ok {
		if lc, ok, err := cap.GetListChangedCapability(ctx, sess); err == nil && ok {
			_, _ = lc.Register(ctx, sess, func(ctx context.Context, _ sessions.Session) {
				notify(mcp.ToolsListChangedNotificationMethod)
			})
		}
	}
	if cap, ok, err := h.server.GetPromptsCapability(ctx, sess); err == nil && ok {
		if lc, ok, err := cap.GetListChangedCapability(ctx, sess); err == nil && ok {
			_, _ = lc.Register(ctx, sess, func(ctx context.Context, _ sessions.Session) {
				notify(mcp.PromptsListChangedNotificationMethod)
			})
		}
	}
	if cap, ok, err := h.server.GetResourcesCapability(ctx, sess); err == nil && ok {
		if lc, ok, err := cap.GetListChangedCapability(ctx, sess); err == nil && ok {
			_, _ = lc.Register(ctx, sess, func(ctx context.Context, _ sessions.Session, _ string) {
				notify(mcp.ResourcesListChangedNotificationMethod)
			})
		}
	}
}

// stopForwarders cancels the listChanged forwarders registered for a session.
// Safe to call for sessions that never had any, or more than once.
func (h *Handler) stopForwarders(sessionID string) {
	h.fwdMu.Lock()
	cancel, ok := h.forwarders[sessionID]
	if ok {
		delete(h.forwarders, sessionID)
	}
	h.fwdMu.Unlock()
	if ok {
		cancel()
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, err := h.manager.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidSession) {
			h.stopForwarders(sessID)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion() != "" && pv != sess.ProtocolVersion() {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	err = sess.ConsumeMessages(ctx, r.Header.Get(lastEventIDHeader), func(cbCtx context.Context, msgID string, b []byte) error {
		return writeSSEEvent(wf, msgID, b)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, err := h.manager.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidSession) {
			h.stopForwarders(sessID)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := h.manager.DeleteSession(ctx, sess.SessionID()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	h.stopForwarders(sess.SessionID())
	w.WriteHeader(http.StatusNoContent)
}

// dispatch routes a JSON-RPC request to the capability serving it. All
// failures become JSON-RPC error responses; hidden or unknown names map to
// invalid params so a client cannot distinguish hidden from nonexistent.
func (h *Handler) dispatch(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return mustResult(req.ID, struct{}{})

	case mcp.ToolsListMethod:
		cap, ok, err := h.server.GetToolsCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var listReq mcp.ListToolsRequest
		if err := unmarshalParams(req.Params, &listReq); err != nil {
			return invalidParams(req.ID, err)
		}
		page, err := cap.ListTools(ctx, sess, cursorPtr(listReq.Cursor))
		if err != nil {
			return internalError(req.ID, err)
		}
		return mustResult(req.ID, mcp.ListToolsResult{
			Tools:           page.Items,
			PaginatedResult: paginated(page.NextCursor),
		})

	case mcp.ToolsCallMethod:
		cap, ok, err := h.server.GetToolsCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var callReq mcp.CallToolRequestReceived
		if err := unmarshalParams(req.Params, &callReq); err != nil {
			return invalidParams(req.ID, err)
		}
		res, err := cap.CallTool(ctx, sess, &callReq)
		if err != nil {
			return invalidParams(req.ID, err)
		}
		return mustResult(req.ID, res)

	case mcp.PromptsListMethod:
		cap, ok, err := h.server.GetPromptsCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var listReq mcp.ListPromptsRequest
		if err := unmarshalParams(req.Params, &listReq); err != nil {
			return invalidParams(req.ID, err)
		}
		page, err := cap.ListPrompts(ctx, sess, cursorPtr(listReq.Cursor))
		if err != nil {
			return internalError(req.ID, err)
		}
		return mustResult(req.ID, mcp.ListPromptsResult{
			Prompts:         page.Items,
			PaginatedResult: paginated(page.NextCursor),
		})

	case mcp.PromptsGetMethod:
		cap, ok, err := h.server.GetPromptsCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var getReq mcp.GetPromptRequestReceived
		if err := unmarshalParams(req.Params, &getReq); err != nil {
			return invalidParams(req.ID, err)
		}
		res, err := cap.GetPrompt(ctx, sess, &getReq)
		if err != nil {
			return invalidParams(req.ID, err)
		}
		return mustResult(req.ID, res)

	case mcp.ResourcesListMethod:
		cap, ok, err := h.server.GetResourcesCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var listReq mcp.ListResourcesRequest
		if err := unmarshalParams(req.Params, &listReq); err != nil {
			return invalidParams(req.ID, err)
		}
		page, err := cap.ListResources(ctx, sess, cursorPtr(listReq.Cursor))
		if err != nil {
			return internalError(req.ID, err)
		}
		return mustResult(req.ID, mcp.ListResourcesResult{
			Resources:       page.Items,
			PaginatedResult: paginated(page.NextCursor),
		})

	case mcp.ResourcesTemplatesListMethod:
		cap, ok, err := h.server.GetResourcesCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var listReq mcp.ListResourceTemplatesRequest
		if err := unmarshalParams(req.Params, &listReq); err != nil {
			return invalidParams(req.ID, err)
		}
		page, err := cap.ListResourceTemplates(ctx, sess, cursorPtr(listReq.Cursor))
		if err != nil {
			return internalError(req.ID, err)
		}
		return mustResult(req.ID, mcp.ListResourceTemplatesResult{
			ResourceTemplates: page.Items,
			PaginatedResult:   paginated(page.NextCursor),
		})

	case mcp.ResourcesReadMethod:
		cap, ok, err := h.server.GetResourcesCapability(ctx, sess)
		if err != nil {
			return internalError(req.ID, err)
		}
		if !ok {
			return methodNotFound(req.ID, req.Method)
		}
		var readReq mcp.ReadResourceRequest
		if err := unmarshalParams(req.Params, &readReq); err != nil {
			return invalidParams(req.ID, err)
		}
		contents, err := cap.ReadResource(ctx, sess, readReq.URI)
		if err != nil {
			return invalidParams(req.ID, err)
		}
		return mustResult(req.ID, mcp.ReadResourceResult{Contents: contents})

	default:
		return methodNotFound(req.ID, req.Method)
	}
}

func unmarshalParams(params json.RawMessage, into any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, into)
}

func cursorPtr(c string) *string {
	if c == "" {
		return nil
	}
	return &c
}

func paginated(next *string) mcp.PaginatedResult {
	if next == nil {
		return mcp.PaginatedResult{}
	}
	return mcp.PaginatedResult{NextCursor: *next}
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return res
}

func methodNotFound(id *jsonrpc.RequestID, method string) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not supported: %s", method), nil)
}

func invalidParams(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
}

func internalError(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
}

func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	if h.auth == nil {
		return anonymousUser{}
	}
	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge(nil))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge(map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge(map[string]string{"error": "invalid_token", "error_description": err.Error()}))
			w.WriteHeader(http.StatusUnauthorized)
		case errors.Is(err, auth.ErrInsufficientScope):
			w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge(map[string]string{"error": "insufficient_scope", "error_description": err.Error()}))
			w.WriteHeader(http.StatusForbidden)
		default:
			h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return nil
	}
	return userInfo
}

func (h *Handler) bearerChallenge(params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 3)
	if h.realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(h.realm)))
	}
	for _, k := range []string{"error", "error_description"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// anonymousUser is the principal for unauthenticated deployments.
type anonymousUser struct{}

func (anonymousUser) UserID() string       { return "anonymous" }
func (anonymousUser) Claims(ref any) error { return fmt.Errorf("no claims for anonymous user") }

// lockedWriteFlusher serializes writes and flushes to an SSE response and
// refuses writes after the request context ends.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(wf, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	wf.Flush()
	return nil
}
