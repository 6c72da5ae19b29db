// Package logctx enriches slog records with request, session and routing
// data carried on the context, so every log line emitted while serving a
// request identifies the session and the category route it came through.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and adds context-carried groups to each
// record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("user_agent", rd.UserAgent),
		))
	}
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
			slog.String("protocol_version", sd.ProtocolVersion),
		))
	}
	if rt, ok := ctx.Value(routeDataKey{}).(*RouteData); ok {
		r.AddAttrs(slog.Group("route",
			slog.String("param", rt.Param),
			slog.String("category", rt.Category),
		))
	}
	if msg, ok := ctx.Value(rpcDataKey{}).(*RPCData); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies the HTTP request being served.
type RequestData struct {
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the MCP session being served.
type SessionData struct {
	SessionID       string
	UserID          string
	ProtocolVersion string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type routeDataKey struct{}

// RouteData identifies the category route the session connected through.
type RouteData struct {
	Param    string
	Category string
}

func WithRouteData(ctx context.Context, data *RouteData) context.Context {
	return context.WithValue(ctx, routeDataKey{}, data)
}

type rpcDataKey struct{}

// RPCData identifies the JSON-RPC message being dispatched.
type RPCData struct {
	Method string
	ID     string
}

func WithRPCData(ctx context.Context, data *RPCData) context.Context {
	return context.WithValue(ctx, rpcDataKey{}, data)
}
