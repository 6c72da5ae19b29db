package mcpservice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/routeview/mcp-routing-go/mcp"
)

// ErrFinalized is returned when a handler writes to a ToolResponseWriter
// after its result has been taken.
var ErrFinalized = errors.New("tool response already finalized")

// ToolResponseWriter accumulates the result of a tool invocation. Handlers
// append content as they go; the dispatcher takes the final result once the
// handler returns. Implementations are safe for concurrent use.
type ToolResponseWriter interface {
	// AppendText appends a text content block.
	AppendText(s string) error
	// AppendTextf appends a formatted text content block.
	AppendTextf(format string, args ...any) error
	// AppendBlocks appends arbitrary content blocks.
	AppendBlocks(blocks ...mcp.ContentBlock) error
	// SetError marks the result as a tool-level error. Content already
	// appended is kept as the error payload.
	SetError(isErr bool) error
	// SetStructured sets structuredContent on the result.
	SetStructured(v map[string]any) error
}

type toolResponseWriter struct {
	mu         sync.Mutex
	blocks     []mcp.ContentBlock
	structured map[string]any
	isError    bool
	finalized  bool
}

func newToolResponseWriter() *toolResponseWriter {
	return &toolResponseWriter{}
}

func (w *toolResponseWriter) AppendText(s string) error {
	return w.AppendBlocks(mcp.ContentBlock{Type: "text", Text: s})
}

func (w *toolResponseWriter) AppendTextf(format string, args ...any) error {
	return w.AppendText(fmt.Sprintf(format, args...))
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.blocks = append(w.blocks, blocks...)
	return nil
}

func (w *toolResponseWriter) SetError(isErr bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.isError = isErr
	return nil
}

func (w *toolResponseWriter) SetStructured(v map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.structured = v
	return nil
}

// Result finalizes the writer and returns the accumulated result. Content is
// never nil so the wire shape always carries a content array.
func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	blocks := w.blocks
	if blocks == nil {
		blocks = []mcp.ContentBlock{}
	}
	return &mcp.CallToolResult{
		Content:           blocks,
		StructuredContent: w.structured,
		IsError:           w.isError,
	}
}
